package browser

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeEngine struct {
	mu       sync.Mutex
	sessions []*fakeSession
	newErr   error
	closed   bool
	page     func(url string) (string, string, error)
}

func (e *fakeEngine) NewSession(context.Context) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	s := &fakeSession{page: e.page}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) launcher() Launcher {
	return func(context.Context) (Engine, error) { return e, nil }
}

type fakeSession struct {
	page      func(url string) (string, string, error)
	identity  string
	width     int
	height    int
	blocked   []string
	navigated string
	timeout   time.Duration
	html      string
	closed    bool
}

func (s *fakeSession) SetIdentity(_ context.Context, ua string) error {
	s.identity = ua
	return nil
}

func (s *fakeSession) SetViewport(_ context.Context, w, h int) error {
	s.width, s.height = w, h
	return nil
}

func (s *fakeSession) BlockResourceTypes(_ context.Context, types []string) error {
	s.blocked = append([]string(nil), types...)
	return nil
}

func (s *fakeSession) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	s.navigated = url
	s.timeout = timeout
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.page == nil {
		return "", errors.New("no page")
	}
	final, html, err := s.page(url)
	if err != nil {
		return "", err
	}
	s.html = html
	return final, nil
}

func (s *fakeSession) Snapshot(context.Context) (string, error) {
	return s.html, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type recordingBlobStore struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingBlobStore) put(path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.paths = append(r.paths, path)
	return "mem://" + path, nil
}
