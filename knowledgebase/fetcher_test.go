package knowledgebase

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Town hall</title><style>p{}</style></head><body>
			<nav><a href="/ignored-nav">menu</a></nav>
			<h1>Welcome</h1><p>Opening hours are 9 to 5.</p>
			<a href="/waste">Waste</a> <a href="https://elsewhere.example/x">Other</a>
			<script>var x = 1;</script></body></html>`)
	})
	mux.HandleFunc("/waste", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Waste</title></head><body><p>Bins are emptied on Monday.</p><a href="/">home</a></body></html>`)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
			<url><loc>%[1]s/</loc></url><url><loc>%[1]s/waste</loc></url><url><loc>%[1]s/missing</loc></url></urlset>`, server.URL)
	})
	mux.HandleFunc("/plain.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "just text")
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchSinglePage(t *testing.T) {
	server := newSite(t)
	fetcher := NewFetcher(100)

	pages, err := fetcher.Fetch(context.Background(), URLTypeSingle, server.URL+"/")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Town hall", pages[0].Title)
	assert.Contains(t, pages[0].Text, "Opening hours are 9 to 5.")
	assert.NotContains(t, pages[0].Text, "var x")
	assert.NotContains(t, pages[0].Text, "menu")

	pages, err = fetcher.Fetch(context.Background(), URLTypeSingle, server.URL+"/plain.txt")
	require.NoError(t, err)
	assert.Equal(t, "just text", pages[0].Text)
}

func TestFetchMissingPage(t *testing.T) {
	server := newSite(t)
	_, err := NewFetcher(0).Fetch(context.Background(), URLTypeSingle, server.URL+"/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchSitemapSkipsBrokenPages(t *testing.T) {
	server := newSite(t)
	pages, err := NewFetcher(0).Fetch(context.Background(), URLTypeSitemap, server.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Waste", pages[1].Title)
}

func TestCrawlDomainStaysOnHost(t *testing.T) {
	server := newSite(t)
	pages, err := NewFetcher(0).Fetch(context.Background(), URLTypeDomain, server.URL+"/")
	require.NoError(t, err)

	var urls []string
	for _, page := range pages {
		urls = append(urls, page.URL)
	}
	assert.Equal(t, []string{server.URL + "/", server.URL + "/waste"}, urls)
}

func TestParseSitemapIndex(t *testing.T) {
	pages, children, err := ParseSitemap([]byte(`<sitemapindex><sitemap><loc> https://a.example/s1.xml </loc></sitemap></sitemapindex>`))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Equal(t, []string{"https://a.example/s1.xml"}, children)

	_, _, err = ParseSitemap([]byte("<not-closed"))
	assert.Error(t, err)
}
