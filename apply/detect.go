package apply

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"

	"stylish/archive"
)

// enough for BOM, doctype and a few comments
const sniffLen = 1024

var htmlType = filetype.NewType("html", "text/html")

func init() {
	filetype.AddMatcher(htmlType, matchHTML)
}

var htmlMarkers = [][]byte{
	[]byte("<!doctype html"),
	[]byte("<html"),
	[]byte("<head"),
	[]byte("<body"),
}

func matchHTML(buf []byte) bool {
	buf = bytes.TrimPrefix(buf, []byte{0xEF, 0xBB, 0xBF})
	buf = bytes.ToLower(bytes.TrimSpace(buf))
	// skip leading comments and xml declaration
	for len(buf) > 0 {
		switch {
		case bytes.HasPrefix(buf, []byte("<!--")):
			end := bytes.Index(buf, []byte("-->"))
			if end < 0 {
				return false
			}
			buf = bytes.TrimSpace(buf[end+3:])
			continue
		case bytes.HasPrefix(buf, []byte("<?xml")):
			end := bytes.Index(buf, []byte("?>"))
			if end < 0 {
				return false
			}
			buf = bytes.TrimSpace(buf[end+2:])
			continue
		}
		break
	}
	for _, m := range htmlMarkers {
		if bytes.HasPrefix(buf, m) {
			return true
		}
	}
	return false
}

var htmlExts = map[string]bool{
	".html":  true,
	".htm":   true,
	".xhtml": true,
}

func hasHTMLExt(name string) bool {
	return htmlExts[strings.ToLower(filepath.Ext(name))]
}

func readHead(r io.Reader) ([]byte, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}

func sniffFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readHead(f)
}

// isArchiveFile reports if path is zip archive, both extension and content
// have to agree.
func isArchiveFile(path string) (bool, error) {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return false, nil
	}
	head, err := sniffFile(path)
	if err != nil {
		return false, err
	}
	kind, err := filetype.Archive(head)
	if err != nil {
		return false, err
	}
	return kind.Extension == "zip", nil
}

// isHTMLFile accepts files with HTML extension and anything without
// extension which looks like HTML.
func isHTMLFile(path string) (bool, error) {
	ext := filepath.Ext(path)
	if ext != "" && !hasHTMLExt(path) {
		return false, nil
	}
	head, err := sniffFile(path)
	if err != nil {
		return false, err
	}
	return looksLikeHTML(head, ext != ""), nil
}

func isHTMLInArchive(e *archive.Entry) (bool, error) {
	ext := path.Ext(e.Name)
	if ext != "" && !hasHTMLExt(e.Name) {
		return false, nil
	}
	r, err := e.Open()
	if err != nil {
		return false, err
	}
	defer r.Close()
	head, err := readHead(r)
	if err != nil {
		return false, err
	}
	return looksLikeHTML(head, ext != ""), nil
}

// looksLikeHTML trusts extension unless content is clearly something else.
func looksLikeHTML(head []byte, trustExt bool) bool {
	kind, _ := filetype.Match(head)
	if kind == htmlType {
		return true
	}
	return trustExt && kind == types.Unknown
}
