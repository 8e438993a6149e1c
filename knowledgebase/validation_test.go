package knowledgebase

import (
	"strings"
	"testing"

	"municonsole_back/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleURLPattern(t *testing.T) {
	v := NewValidator("")

	for _, ok := range []string{
		"https://www.utrecht.nl/afval",
		"http://example.org",
		"https://example.org/path?q=1#frag",
	} {
		assert.Empty(t, v.URL(URLTypeSingle, ok), ok)
	}
	for _, bad := range []string{
		"",
		"www.utrecht.nl",
		"ftp://example.org/file",
		"https://exa mple.org",
		"https://.example.org",
		"https://one.org https://two.org",
	} {
		assert.Equal(t, MsgInvalidSingleURL, v.URL(URLTypeSingle, bad), bad)
	}
}

func TestCustomURLPattern(t *testing.T) {
	v := NewValidator(`^https://[a-z.]+\.nl/.*$`)
	assert.Empty(t, v.URL(URLTypeSingle, "https://utrecht.nl/afval"))
	assert.Equal(t, MsgInvalidSingleURL, v.URL(URLTypeSingle, "https://example.org/afval"))

	fallback := NewValidator(`([`)
	assert.Empty(t, fallback.URL(URLTypeSingle, "https://example.org"))
}

func TestSitemapAndDomainURLs(t *testing.T) {
	v := NewValidator("")
	assert.Empty(t, v.URL(URLTypeSitemap, "https://example.org/sitemap.xml"))
	assert.Equal(t, MsgInvalidSitemapURL, v.URL(URLTypeSitemap, "https://example.org/sitemap"))
	assert.Equal(t, MsgInvalidSitemapURL, v.URL(URLTypeSitemap, "sitemap.xml"))
	assert.Empty(t, v.URL(URLTypeDomain, "https://example.org"))
	assert.Equal(t, MsgInvalidDomainURL, v.URL(URLTypeDomain, "example.org"))
	assert.NotEmpty(t, v.URL("crawl", "https://example.org"))
}

func TestItemValidation(t *testing.T) {
	v := NewValidator("")

	err := v.Item(&Item{Source: "fax", RefreshFrequency: "hourly"})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, msgTitleRequired, appErr.Fields["title"])
	assert.Equal(t, msgSourceInvalid, appErr.Fields["source"])
	assert.Equal(t, msgRefreshInvalid, appErr.Fields["refresh_frequency"])

	link := &Item{Title: "Afval", Source: SourceLink, URL: "not a url", RefreshFrequency: RefreshNever}
	require.ErrorAs(t, v.Item(link), &appErr)
	assert.Equal(t, MsgInvalidSingleURL, appErr.Fields["url"])
	assert.Equal(t, URLTypeSingle, link.URLType)

	sitemap := &Item{Title: "Site", Source: SourceSitemap, URL: "https://example.org/sitemap.xml", URLType: URLTypeSingle, RefreshFrequency: RefreshWeekly}
	require.NoError(t, v.Item(sitemap))
	assert.Equal(t, URLTypeSitemap, sitemap.URLType)

	require.ErrorAs(t, v.Item(&Item{Title: "Doc", Source: SourceDocument, RefreshFrequency: RefreshNever}), &appErr)
	assert.Equal(t, msgStorageRequired, appErr.Fields["storage_id"])

	require.ErrorAs(t, v.Item(&Item{Title: "Text", Source: SourceText, Content: strings.Repeat(" ", 3), RefreshFrequency: RefreshNever}), &appErr)
	assert.Equal(t, msgContentRequired, appErr.Fields["content"])
}
