package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/fetcher"
)

func docsSite() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/docs/":
			_, _ = w.Write([]byte(`<html><body><a href="intro">Intro</a></body></html>`))
		case "/docs/intro":
			_, _ = w.Write([]byte(`<html><body><p>intro</p></body></html>`))
		default:
			http.NotFound(w, r)
		}
	})
	return httptest.NewServer(mux)
}

func TestDiscoveryKeepsDirectoryOfStartPage(t *testing.T) {
	t.Parallel()

	srv := docsSite()
	defer srv.Close()

	engine := New(Config{Timeout: time.Second})
	defer func() { require.NoError(t, engine.Close()) }()
	bc, err := engine.NewContext(context.Background(), crawler.ContextOptions{})
	require.NoError(t, err)
	defer func() { require.NoError(t, bc.Close()) }()

	cfg := crawler.DefaultCrawlConfig()
	cfg.MaxPages = 10
	cfg.MaxDepth = 3
	cfg.RespectRobots = false
	d := crawler.NewDiscoverer(fetcher.New(nil), nil)

	for _, start := range []string{srv.URL + "/docs/", srv.URL + "/docs"} {
		base, err := crawler.NormalizeBaseURL(start)
		require.NoError(t, err)
		require.Equal(t, start, base)

		urls, err := d.Discover(context.Background(), bc, base, cfg, nil)
		require.NoError(t, err, start)
		require.Equal(t, []string{start, srv.URL + "/docs/intro"}, urls, start)
	}
}

func TestEngineReportsRedirectTarget(t *testing.T) {
	t.Parallel()

	srv := docsSite()
	defer srv.Close()

	bc, err := New(Config{}).NewContext(context.Background(), crawler.ContextOptions{})
	require.NoError(t, err)
	page, err := bc.NewPage(context.Background())
	require.NoError(t, err)

	resp, err := page.Goto(context.Background(), srv.URL+"/docs", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, srv.URL+"/docs/", resp.URL)
}
