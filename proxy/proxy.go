// Package proxy serves upstream site with stored rules injected into every
// HTML page passing through.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"stylish/config"
	"stylish/dom"
	"stylish/render"
	"stylish/rules"
)

// Proxy is http.Handler forwarding requests to upstream. Rules are cached and
// refreshed on store notifications.
type Proxy struct {
	upstream *url.URL
	auth     string
	maxSize  int64
	log      *zap.Logger

	rp       *httputil.ReverseProxy
	renderer *render.Renderer

	mu          sync.RWMutex
	rules       []rules.Rule
	unsubscribe func()
}

func New(ctx context.Context, cfg *config.ProxyConfig, store rules.Store, log *zap.Logger) (*Proxy, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Upstream) == 0 {
		return nil, errors.New("upstream is not configured")
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("bad upstream url: %w", err)
	}
	if upstream.Scheme != "http" && upstream.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream scheme %q", upstream.Scheme)
	}

	p := &Proxy{
		upstream: upstream,
		auth:     cfg.UpstreamAuth.Value(),
		maxSize:  cfg.MaxDocumentSize,
		log:      log.Named("proxy"),
	}
	p.renderer = render.New(p.log)
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorLog:       zap.NewStdLog(p.log),
	}

	// subscribe first so no change slips between listing and subscribing
	p.unsubscribe = store.Subscribe(p.setRules)
	list, err := store.List(ctx)
	if err != nil {
		p.unsubscribe()
		return nil, fmt.Errorf("unable to list rules: %w", err)
	}
	p.setRules(list)
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// Close stops following rule changes.
func (p *Proxy) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *Proxy) Rules() []rules.Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

func (p *Proxy) setRules(list []rules.Rule) {
	p.mu.Lock()
	p.rules = list
	p.mu.Unlock()
	p.log.Debug("Rules refreshed", zap.Int("count", len(list)))
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.upstream)
	pr.SetXForwarded()
	// body has to be readable to be styled
	pr.Out.Header.Del("Accept-Encoding")
	if len(p.auth) > 0 {
		pr.Out.Header.Set("Authorization", p.auth)
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	if !p.styleable(resp) {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize+1))
	if err != nil {
		return fmt.Errorf("unable to read upstream response: %w", err)
	}
	if int64(len(data)) > p.maxSize {
		p.log.Debug("Document is too large, passing through", zap.Stringer("url", resp.Request.URL))
		resp.Body = &readCloser{io.MultiReader(bytes.NewReader(data), resp.Body), resp.Body}
		return nil
	}
	resp.Body.Close()

	out, err := p.style(data, resp.Header.Get("Content-Type"), resp.Request.URL.String())
	if err != nil {
		p.log.Warn("Unable to style document, passing through", zap.Stringer("url", resp.Request.URL), zap.Error(err))
		out = data
	} else {
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.Header.Del("ETag")
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}

func (p *Proxy) styleable(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.Method == http.MethodHead {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if enc := resp.Header.Get("Content-Encoding"); len(enc) > 0 && enc != "identity" {
		return false
	}
	if resp.ContentLength > p.maxSize {
		return false
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

// style returns document re-encoded as UTF-8 with rules for pageURL applied.
func (p *Proxy) style(data []byte, contentType, pageURL string) ([]byte, error) {
	doc, err := dom.Parse(bytes.NewReader(data), contentType)
	if err != nil {
		return nil, err
	}
	res := p.renderer.RenderAll(doc, p.Rules(), pageURL)
	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return nil, err
	}
	p.log.Debug("Document styled", zap.String("url", pageURL), zap.Int("applicable", res.Applicable))
	return buf.Bytes(), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
