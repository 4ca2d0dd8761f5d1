// Package apply implements command line actions working with static HTML
// documents: styling them with stored rules, resolving selectors and keeping
// styled copy in sync with the rule store.
package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"stylish/archive"
	"stylish/config"
	"stylish/dom"
	"stylish/render"
	"stylish/rules"
	"stylish/state"
)

// Run styles every HTML document found in the source and writes results to
// destination directory.
func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("apply")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input source has been specified")
	}
	src, err = filepath.Abs(src)
	if err != nil {
		return err
	}

	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Mailformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	if src == dst {
		return errors.New("source and destination must differ")
	}

	env.Overwrite, env.BaseURL = cmd.Bool("overwrite"), cmd.String("url")
	if len(env.BaseURL) > 0 {
		if _, err := url.Parse(env.BaseURL); err != nil {
			return fmt.Errorf("malformed base url: %w", err)
		}
	}

	forceCharset(cmd, env, log)

	store, err := env.Rules()
	if err != nil {
		return err
	}
	list, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("unable to list rules: %w", err)
	}

	log.Info("Processing starting", zap.String("source", src), zap.String("destination", dst), zap.Int("rules", len(list)))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return process(ctx, src, dst, list, log)
}

// process determines the input type (directory, archive, or single file) and
// processes accordingly. Path may continue inside archive, in which case only
// documents under that path are processed.
func process(ctx context.Context, src, dst string, list []rules.Rule, log *zap.Logger) error {
	var head, tail string
	for head = src; len(head) != 0; head, tail = filepath.Split(head) {
		if err := ctx.Err(); err != nil {
			return err
		}

		head = strings.TrimSuffix(head, string(filepath.Separator))

		fi, err := os.Stat(head)
		if err != nil {
			// does not exists - probably path in archive
			continue
		}

		if fi.Mode().IsDir() {
			if len(tail) != 0 {
				return fmt.Errorf("input source was not found (%s) => (%s)", head, strings.TrimPrefix(src, head))
			}
			if err := processDir(ctx, head, dst, list, log); err != nil {
				return fmt.Errorf("unable to process directory: %w", err)
			}
			break
		}

		if !fi.Mode().IsRegular() {
			return fmt.Errorf("unexpected path mode for (%s) => (%s)", head, strings.TrimPrefix(src, head))
		}

		arc, err := isArchiveFile(head)
		if err != nil {
			return fmt.Errorf("unable to check archive type: %w", err)
		}
		if arc {
			tail = strings.TrimPrefix(strings.TrimPrefix(src, head), string(filepath.Separator))
			if err := processArchive(ctx, head, filepath.ToSlash(tail), "", dst, list, log); err != nil {
				return fmt.Errorf("unable to process archive: %w", err)
			}
			break
		}

		doc, err := isHTMLFile(head)
		if err != nil {
			return fmt.Errorf("unable to check file type: %w", err)
		}
		if doc && len(tail) == 0 {
			file, err := os.Open(head)
			if err != nil {
				return fmt.Errorf("unable to open document: %w", err)
			}
			defer file.Close()
			return processDocument(ctx, file, filepath.Base(head), documentURL(ctx, "", head), dst, list, log)
		}
		return fmt.Errorf("input was not recognized as HTML document (%s)", head)
	}
	if len(head) == 0 {
		return fmt.Errorf("input source was not found (%s)", src)
	}
	return nil
}

// processDir walks directory tree finding documents and archives.
func processDir(ctx context.Context, dir, dst string, list []rules.Rule, log *zap.Logger) (err error) {
	count := 0
	defer func() {
		if err == nil && count == 0 {
			log.Debug("Nothing to process", zap.String("dir", dir))
		}
	}()

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err != nil {
			log.Warn("Skipping path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if info.IsDir() && path == dst {
			// destination inside source
			return filepath.SkipDir
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(path, dir), string(filepath.Separator))

		arc, err := isArchiveFile(path)
		if err != nil {
			log.Warn("Skipping file", zap.String("file", path), zap.Error(err))
			return nil
		}
		if arc {
			count++
			if err := processArchive(ctx, path, "", filepath.Dir(rel), dst, list, log); err != nil {
				log.Error("Unable to process archive", zap.String("file", path), zap.Error(err))
			}
			return nil
		}

		doc, err := isHTMLFile(path)
		if err != nil {
			log.Warn("Skipping file", zap.String("file", path), zap.Error(err))
			return nil
		}
		if !doc {
			log.Debug("Skipping file, not recognized as document or archive", zap.String("file", path))
			return nil
		}

		count++

		file, err := os.Open(path)
		if err != nil {
			log.Error("Unable to process file", zap.String("file", path), zap.Error(err))
			return nil
		}
		defer file.Close()

		if err := processDocument(ctx, file, rel, documentURL(ctx, rel, path), dst, list, log); err != nil {
			log.Error("Unable to process file", zap.String("file", path), zap.Error(err))
		}
		return nil
	})
	return err
}

// processArchive walks all files inside archive, finds documents under
// "pathIn" and processes them. Results go to a directory named after the
// archive.
func processArchive(ctx context.Context, path, pathIn, pathOut, dst string, list []rules.Rule, log *zap.Logger) (err error) {
	count := 0
	defer func() {
		if err == nil && count == 0 {
			log.Debug("Nothing to process", zap.String("archive", path))
		}
	}()

	base := config.CleanFileName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	pathOut = filepath.Join(pathOut, base)

	err = archive.Walk(path, func(e *archive.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := isHTMLInArchive(e)
		if err != nil {
			log.Warn("Skipping file in archive",
				zap.String("archive", e.Archive), zap.String("path", e.Name), zap.Error(err))
			return nil
		}
		if !doc {
			log.Debug("Skipping file, not recognized as document", zap.String("archive", e.Archive), zap.String("file", e.Name))
			return nil
		}

		count++

		r, err := e.Open()
		if err != nil {
			log.Error("Unable to process file in archive",
				zap.String("archive", e.Archive), zap.String("file", e.Name), zap.Error(err))
			return nil
		}
		defer r.Close()

		rel := filepath.Join(pathOut, filepath.FromSlash(e.Name))
		if err := processDocument(ctx, r, rel, documentURL(ctx, rel, e.Archive+"/"+e.Name), dst, list, log); err != nil {
			log.Error("Unable to process file in archive",
				zap.String("archive", e.Archive), zap.String("file", e.Name), zap.Error(err))
		}
		return nil
	}, archive.WithPrefix(pathIn), archive.WithNameEncoding(state.EnvFromContext(ctx).CodePage))
	return err
}

// processDocument styles single document. "src" is path of the document
// relative to the original source, output keeps it under "dst".
func processDocument(ctx context.Context, r io.Reader, src, docURL, dst string, list []rules.Rule, log *zap.Logger) error {
	env := state.EnvFromContext(ctx)

	outputName := filepath.Join(dst, src)
	log.Debug("Styling starting", zap.String("from", src), zap.String("url", docURL))

	doc, err := parseDocument(r, env)
	if err != nil {
		return fmt.Errorf("unable to parse document (%s): %w", src, err)
	}
	res := render.New(log).RenderAll(doc, list, docURL)

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return fmt.Errorf("unable to serialize document (%s): %w", src, err)
	}

	if _, err := os.Stat(outputName); err == nil {
		if !env.Overwrite {
			return fmt.Errorf("output file already exists: %s", outputName)
		}
		log.Warn("Overwriting existing file", zap.String("file", outputName))
	} else if !os.IsNotExist(err) {
		return err
	} else if err := os.MkdirAll(filepath.Dir(outputName), 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}
	if err := os.WriteFile(outputName, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("unable to write output: %w", err)
	}

	log.Info("Document styled", zap.String("to", outputName), zap.Int("applicable", res.Applicable), zap.Int("removed", res.Removed))

	if env.Rpt != nil {
		env.Rpt.Store(path.Join("results", filepath.ToSlash(src)), outputName)
	}
	return nil
}

// forceCharset sets encoding requested with --charset. Documents are usually
// self-describing, but old ones sometimes lie.
func forceCharset(cmd *cli.Command, env *state.LocalEnv, log *zap.Logger) {
	cp := cmd.String("charset")
	if len(cp) == 0 {
		return
	}
	enc, err := ianaindex.IANA.Encoding(cp)
	if err != nil || enc == nil {
		log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
		env.CodePage = nil
		return
	}
	env.CodePage = enc
	n, _ := ianaindex.IANA.Name(enc)
	log.Debug("Forcefully decoding documents", zap.String("charset", n))
}

func parseDocument(r io.Reader, env *state.LocalEnv) (*dom.Document, error) {
	if env.CodePage != nil {
		return dom.ParseWithEncoding(r, env.CodePage)
	}
	return dom.Parse(r, "")
}

// documentURL is location rules are matched against. With base url documents
// pretend to be served from it, otherwise they are local files. Single
// document (empty rel) gets base url as is.
func documentURL(ctx context.Context, rel, local string) string {
	base := state.EnvFromContext(ctx).BaseURL
	if len(base) == 0 {
		return fileURL(local)
	}
	u, err := url.Parse(base)
	if err != nil {
		return fileURL(local)
	}
	if len(rel) == 0 {
		return u.String()
	}
	return u.JoinPath(filepath.ToSlash(rel)).String()
}

func fileURL(local string) string {
	p := filepath.ToSlash(local)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
