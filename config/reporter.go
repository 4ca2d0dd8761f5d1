package config

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"stylish/misc"
)

type ReporterConfig struct {
	Destination string `yaml:"destination" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
}

// Prepare creates empty report backed by the configured file or, if it
// cannot be created, by a temporary one.
func (conf *ReporterConfig) Prepare() (*Report, error) {
	f, err := os.Create(conf.Destination)
	if err != nil {
		if f, err = os.CreateTemp("", misc.GetAppName()+"-report.*.zip"); err != nil {
			return nil, fmt.Errorf("unable to create report: %w", err)
		}
	}
	return &Report{entries: make(map[string]entry), file: f}, nil
}

// entry is either a file system path, resolved when report is closed, or
// data captured at the time of the call.
type entry struct {
	path  string
	abs   string
	stamp time.Time
	data  []byte
}

func (e entry) captured() bool {
	return e.path == ""
}

// Report collects what is needed to troubleshoot a run: logs, effective
// configuration, the rule set and styled documents. Nil report ignores all
// calls so callers never check whether debugging was requested.
type Report struct {
	mu      sync.Mutex
	entries map[string]entry
	file    *os.File
}

// Close writes the archive.
func (r *Report) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	defer r.file.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write()
}

// Name returns absolute name of the archive.
func (r *Report) Name() string {
	if r == nil || r.file == nil {
		return ""
	}
	if n, err := filepath.Abs(r.file.Name()); err == nil {
		return n
	}
	return r.file.Name()
}

// Store adds file or directory at path under name. Content is read when
// report is closed, so long running commands get the last version.
func (r *Report) Store(name, path string) {
	if r == nil {
		return
	}
	e := entry{path: path, abs: path}
	if p, err := filepath.Abs(path); err == nil {
		e.abs = p
	}
	r.add(name, e)
}

// StoreData adds copy of data under name.
func (r *Report) StoreData(name string, data []byte) {
	if r == nil {
		return
	}
	r.add(name, entry{data: bytes.Clone(data), stamp: time.Now()})
}

// add never loses an entry: repeated name for different content gets numeric
// suffix, repeated path is ignored.
func (r *Report) add(name string, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unique := name
	for i := 1; ; i++ {
		old, exists := r.entries[unique]
		if !exists {
			break
		}
		if !e.captured() && !old.captured() && old.abs == e.abs {
			return
		}
		unique = fmt.Sprintf("%s.%d", name, i)
	}
	r.entries[unique] = e
}

func (r *Report) write() error {
	arc := zip.NewWriter(r.file)

	now := time.Now()
	names := slices.Sorted(maps.Keys(r.entries))

	var manifest bytes.Buffer
	tw := tabwriter.NewWriter(&manifest, 0, 4, 2, ' ', 0)
	for _, name := range names {
		e := r.entries[name]
		stamp, source := e.stamp, "data"
		if !e.captured() {
			stamp, source = now, e.path+" : "+e.abs
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", stamp.UTC().Format(time.RFC3339), name, source)
	}
	tw.Flush()
	if err := addFile(arc, "MANIFEST", now, &manifest); err != nil {
		return err
	}

	for _, name := range names {
		e := r.entries[name]
		if e.captured() {
			if err := addFile(arc, name, e.stamp, bytes.NewReader(e.data)); err != nil {
				return err
			}
			continue
		}
		// absent files are skipped
		info, err := os.Stat(e.abs)
		if err != nil {
			continue
		}
		if info.IsDir() {
			err = addDir(arc, name, e.abs)
		} else if info.Mode().IsRegular() {
			err = addPath(arc, name, e.abs, info.ModTime())
		}
		if err != nil {
			return err
		}
	}
	return arc.Close()
}

func addFile(arc *zip.Writer, name string, t time.Time, src io.Reader) error {
	w, err := arc.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: t})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func addPath(arc *zip.Writer, name, path string, t time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return addFile(arc, name, t, f)
}

func addDir(arc *zip.Writer, name, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// links, sockets and such are ignored
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addPath(arc, filepath.ToSlash(filepath.Join(name, rel)), path, info.ModTime())
	})
}
