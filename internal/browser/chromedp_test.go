package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResourceTypeMapping(t *testing.T) {
	t.Parallel()

	rt, err := resourceType(" Stylesheet ")
	require.NoError(t, err)
	require.Equal(t, network.ResourceTypeStylesheet, rt)

	rt, err = resourceType("font")
	require.NoError(t, err)
	require.Equal(t, network.ResourceTypeFont, rt)

	_, err = resourceType("hologram")
	require.Error(t, err)
}

func TestAllocatorOptionsGrowWithFlags(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(ChromedpConfig{Headless: true})
	full := allocatorOptions(ChromedpConfig{Headless: true, NoSandbox: true, ExecPath: "/usr/bin/chromium"})
	require.Len(t, full, len(base)+3)
}

func TestChromedpEngineRendersDynamicContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>
document.body.innerHTML = '<h1 class="vtex-store-components-3-x-productNameContainer">Rendered</h1>';
</script></body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	engine, err := LaunchChromedp(ctx, ChromedpConfig{Headless: true, NoSandbox: true}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer func() { _ = engine.Close() }()

	m := NewManager(func(context.Context) (Engine, error) { return engine, nil }, nil, Config{
		NavTimeout:     10 * time.Second,
		SettleDelay:    100 * time.Millisecond,
		BlockResources: []string{"image", "font"},
	})
	require.NoError(t, m.Start(ctx))

	rec, err := m.WithSession(ctx, srv.URL)
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	require.NotNil(t, rec.ProductName)
	require.Equal(t, "Rendered", *rec.ProductName)
}
