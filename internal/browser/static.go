package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// StaticEngine fetches server-rendered pages over plain HTTP with Colly. It
// runs no JavaScript, so viewport and resource blocking are no-ops.
type StaticEngine struct {
	base *colly.Collector
}

// StaticLauncher returns a Launcher for the static engine.
func StaticLauncher() Launcher {
	return func(context.Context) (Engine, error) {
		return NewStaticEngine(), nil
	}
}

// NewStaticEngine builds a StaticEngine with a pooled HTTP transport.
func NewStaticEngine() *StaticEngine {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &StaticEngine{base: c}
}

// WithTransport swaps the HTTP transport shared by all sessions.
func (e *StaticEngine) WithTransport(rt http.RoundTripper) {
	e.base.WithTransport(rt)
}

// NewSession clones the base collector; clones share the HTTP backend.
func (e *StaticEngine) NewSession(context.Context) (Session, error) {
	return &staticSession{collector: e.base.Clone()}, nil
}

// Close implements Engine; the static engine holds no process.
func (e *StaticEngine) Close() error {
	return nil
}

type staticSession struct {
	collector *colly.Collector
	html      string
	loaded    bool
}

func (s *staticSession) SetIdentity(_ context.Context, userAgent string) error {
	if userAgent != "" {
		s.collector.UserAgent = userAgent
	}
	return nil
}

func (s *staticSession) SetViewport(context.Context, int, int) error {
	return nil
}

func (s *staticSession) BlockResourceTypes(context.Context, []string) error {
	return nil
}

func (s *staticSession) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s.collector.SetRequestTimeout(timeout)

	var (
		finalURL string
		body     []byte
		fetchErr error
	)
	s.collector.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
	})
	s.collector.OnError(func(r *colly.Response, err error) {
		fetchErr = classifyHTTPError(r, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- s.collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return "", fetchErr
		}
		if err != nil {
			return "", fmt.Errorf("static visit failed: %w", err)
		}
	}
	s.html = string(body)
	s.loaded = true
	return finalURL, nil
}

func (s *staticSession) Snapshot(context.Context) (string, error) {
	if !s.loaded {
		return "", errors.New("snapshot before navigation")
	}
	return s.html, nil
}

func (s *staticSession) Close() error {
	return nil
}

// classifyHTTPError marks gone pages as fatal; everything else stays retryable.
func classifyHTTPError(r *colly.Response, err error) error {
	if r != nil {
		switch r.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return crawler.Fatal(fmt.Errorf("http %d: %w", r.StatusCode, err))
		}
		if r.StatusCode != 0 {
			return fmt.Errorf("http %d: %w", r.StatusCode, err)
		}
	}
	return fmt.Errorf("static response failed: %w", err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
