// Package archive walks documents stored in zip archives.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/text/encoding"
)

// Entry is a regular file inside archive.
type Entry struct {
	// Archive is path to the archive on disk as passed to Walk.
	Archive string
	// Name is path inside archive. Names not flagged as UTF-8 are decoded
	// with forced name encoding when one was given.
	Name string
	File *zip.File
}

func (e *Entry) Open() (io.ReadCloser, error) {
	return e.File.Open()
}

// WalkFunc is called for every entry selected by Walk. If an error is
// returned, processing stops.
type WalkFunc func(e *Entry) error

type walker struct {
	prefix string
	enc    encoding.Encoding
}

type Option func(*walker)

// WithPrefix selects entries which names start with prefix.
func WithPrefix(prefix string) Option {
	return func(w *walker) {
		w.prefix = prefix
	}
}

// WithNameEncoding forces encoding of entry names which zip header does not
// mark as UTF-8. Zip "standard" says nothing about it and old archives often
// use local code pages.
func WithNameEncoding(enc encoding.Encoding) Option {
	return func(w *walker) {
		w.enc = enc
	}
}

// Walk calls fn for every regular file in archive selected by options, in
// archive order. Archive containing entry with absolute path or ".." component
// is rejected as soon as such entry is met.
func Walk(archive string, fn WalkFunc, opts ...Option) error {
	var w walker
	for _, o := range opts {
		o(&w)
	}

	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		name := w.decode(f)
		if !isSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if f.FileInfo().IsDir() || !strings.HasPrefix(name, w.prefix) {
			continue
		}
		if err := fn(&Entry{Archive: archive, Name: name, File: f}); err != nil {
			return err
		}
	}
	return nil
}

// decode keeps raw name when it cannot be decoded.
func (w *walker) decode(f *zip.File) string {
	if w.enc == nil || !f.NonUTF8 {
		return f.Name
	}
	if n, err := w.enc.NewDecoder().String(f.Name); err == nil {
		return n
	}
	return f.Name
}

func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	return true
}
