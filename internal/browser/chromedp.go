package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpConfig controls how headless Chrome is launched.
type ChromedpConfig struct {
	Headless  bool
	NoSandbox bool
	ExecPath  string
}

// ChromedpEngine renders pages in a shared Chrome process, one tab per session.
type ChromedpEngine struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// ChromedpLauncher returns a Launcher for the chromedp engine.
func ChromedpLauncher(cfg ChromedpConfig, logger *zap.Logger) Launcher {
	return func(ctx context.Context) (Engine, error) {
		return LaunchChromedp(ctx, cfg, logger)
	}
}

// LaunchChromedp starts Chrome and waits for the browser to come up.
func LaunchChromedp(ctx context.Context, cfg ChromedpConfig, logger *zap.Logger) (*ChromedpEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stop := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	logger.Info("chrome launched", zap.Bool("headless", cfg.Headless), zap.Bool("no_sandbox", cfg.NoSandbox))
	return &ChromedpEngine{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

func allocatorOptions(cfg ChromedpConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// NewSession opens a fresh tab.
func (e *ChromedpEngine) NewSession(ctx context.Context) (Session, error) {
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	stop := forwardCancel(ctx, cancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	s := &chromedpSession{tabCtx: tabCtx, cancel: cancel, logger: e.logger}
	chromedp.ListenTarget(tabCtx, s.onEvent)
	return s, nil
}

// Close shuts the browser down.
func (e *ChromedpEngine) Close() error {
	if e == nil {
		return nil
	}
	err := chromedp.Cancel(e.browserCtx)
	e.browserCancel()
	e.allocCancel()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type chromedpSession struct {
	tabCtx context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func (s *chromedpSession) SetIdentity(ctx context.Context, userAgent string) error {
	if userAgent == "" {
		return nil
	}
	if err := s.run(ctx, 0, emulation.SetUserAgentOverride(userAgent)); err != nil {
		return fmt.Errorf("set user-agent: %w", err)
	}
	return nil
}

func (s *chromedpSession) SetViewport(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	if err := s.run(ctx, 0, chromedp.EmulateViewport(int64(width), int64(height))); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}

// BlockResourceTypes pauses matching requests through the Fetch domain; onEvent
// fails each paused request.
func (s *chromedpSession) BlockResourceTypes(ctx context.Context, types []string) error {
	patterns := make([]*fetch.RequestPattern, 0, len(types))
	for _, name := range types {
		rt, err := resourceType(name)
		if err != nil {
			return err
		}
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	if len(patterns) == 0 {
		return nil
	}
	if err := s.run(ctx, 0, fetch.Enable().WithPatterns(patterns)); err != nil {
		return fmt.Errorf("enable request interception: %w", err)
	}
	return nil
}

func (s *chromedpSession) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	var finalURL string
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return "", err
	}
	return finalURL, nil
}

func (s *chromedpSession) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot dom: %w", err)
	}
	return html, nil
}

func (s *chromedpSession) Close() error {
	s.cancel()
	return nil
}

// run executes actions on the tab while honoring the caller's ctx.
func (s *chromedpSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.tabCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.tabCtx)
	}
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *chromedpSession) onEvent(ev any) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}
	go func() {
		c := chromedp.FromContext(s.tabCtx)
		if c == nil || c.Target == nil {
			return
		}
		execCtx := cdp.WithExecutor(s.tabCtx, c.Target)
		if err := fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
			s.logger.Debug("fail blocked request", zap.String("resource_type", paused.ResourceType.String()), zap.Error(err))
		}
	}()
}

var resourceTypes = map[string]network.ResourceType{
	"document":   network.ResourceTypeDocument,
	"stylesheet": network.ResourceTypeStylesheet,
	"image":      network.ResourceTypeImage,
	"media":      network.ResourceTypeMedia,
	"font":       network.ResourceTypeFont,
	"script":     network.ResourceTypeScript,
	"xhr":        network.ResourceTypeXHR,
	"fetch":      network.ResourceTypeFetch,
	"websocket":  network.ResourceTypeWebSocket,
	"manifest":   network.ResourceTypeManifest,
	"ping":       network.ResourceTypePing,
	"other":      network.ResourceTypeOther,
}

func resourceType(name string) (network.ResourceType, error) {
	rt, ok := resourceTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown resource type %q", name)
	}
	return rt, nil
}
