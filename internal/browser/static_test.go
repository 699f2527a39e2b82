package browser

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

func htmlResponder(status int, body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func TestStaticSessionNavigateAndSnapshot(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://shop.example.test/p/1", htmlResponder(http.StatusOK, productHTML))

	engine := NewStaticEngine()
	engine.WithTransport(transport)
	session, err := engine.NewSession(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close()) }()

	require.NoError(t, session.SetIdentity(context.Background(), "agent-x"))
	require.NoError(t, session.SetViewport(context.Background(), 10, 10))
	require.NoError(t, session.BlockResourceTypes(context.Background(), []string{"image"}))

	_, err = session.Snapshot(context.Background())
	require.Error(t, err)

	final, err := session.Navigate(context.Background(), "http://shop.example.test/p/1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "http://shop.example.test/p/1", final)

	html, err := session.Snapshot(context.Background())
	require.NoError(t, err)
	require.Contains(t, html, "Esmeril Angular")
}

func TestStaticSessionRevisitsSameURL(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://shop.example.test/p/2", htmlResponder(http.StatusOK, productHTML))

	engine := NewStaticEngine()
	engine.WithTransport(transport)
	for i := 0; i < 2; i++ {
		session, err := engine.NewSession(context.Background())
		require.NoError(t, err)
		_, err = session.Navigate(context.Background(), "http://shop.example.test/p/2", time.Second)
		require.NoError(t, err)
	}
	require.Equal(t, 2, transport.GetTotalCallCount())
}

func TestStaticSessionClassifiesStatus(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://shop.example.test/gone", htmlResponder(http.StatusNotFound, "missing"))
	transport.RegisterResponder("GET", "http://shop.example.test/busy", htmlResponder(http.StatusServiceUnavailable, "busy"))

	engine := NewStaticEngine()
	engine.WithTransport(transport)

	session, err := engine.NewSession(context.Background())
	require.NoError(t, err)
	_, err = session.Navigate(context.Background(), "http://shop.example.test/gone", time.Second)
	require.Error(t, err)
	require.True(t, crawler.IsFatal(err))

	session, err = engine.NewSession(context.Background())
	require.NoError(t, err)
	_, err = session.Navigate(context.Background(), "http://shop.example.test/busy", time.Second)
	require.Error(t, err)
	require.False(t, crawler.IsFatal(err))
}

func TestStaticEngineThroughManager(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://shop.example.test/p/3", htmlResponder(http.StatusOK, productHTML))
	engine := NewStaticEngine()
	engine.WithTransport(transport)

	m := NewManager(func(context.Context) (Engine, error) { return engine, nil }, nil, Config{SettleDelay: 0})
	require.NoError(t, m.Start(context.Background()))
	defer func() { require.NoError(t, m.Close()) }()

	rec, err := m.WithSession(context.Background(), "http://shop.example.test/p/3")
	require.NoError(t, err)
	require.Equal(t, "Esmeril Angular", *rec.ProductName)
}
