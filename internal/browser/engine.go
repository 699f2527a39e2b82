// Package browser manages rendering sessions: it launches an engine, opens one
// isolated session per item, configures identity, viewport and resource
// blocking, navigates, snapshots the DOM and hands it to the extractor.
package browser

import (
	"context"
	"time"
)

// Engine is a launched rendering engine that opens isolated sessions.
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is one isolated page context. It must not be shared across items.
type Session interface {
	SetIdentity(ctx context.Context, userAgent string) error
	SetViewport(ctx context.Context, width, height int) error
	BlockResourceTypes(ctx context.Context, types []string) error
	// Navigate loads url within timeout and returns the resolved address.
	Navigate(ctx context.Context, url string, timeout time.Duration) (string, error)
	// Snapshot returns the current serialized DOM.
	Snapshot(ctx context.Context) (string, error)
	Close() error
}

// Launcher starts an Engine.
type Launcher func(ctx context.Context) (Engine, error)

// forwardCancel cancels cancel when parent ends. The returned func stops
// forwarding.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
