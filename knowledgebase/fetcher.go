package knowledgebase

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	maxPageBytes    = 5 << 20
	maxSitemapPages = 50
	maxDomainPages  = 20
	userAgent       = "municonsole-knowledge/1.0"
)

// ErrNotFound means the source URL answered 404.
var ErrNotFound = errors.New("knowledgebase: source not found")

// Page is the text of one fetched web page.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads web pages with a shared request rate.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher allows perSecond requests per second (burst 1). A non-positive
// rate disables throttling.
func NewFetcher(perSecond float64) *Fetcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Fetcher{
		client:  &http.Client{Timeout: 20 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Fetch collects the pages behind rawURL according to urlType.
func (f *Fetcher) Fetch(ctx context.Context, urlType, rawURL string) ([]Page, error) {
	switch urlType {
	case URLTypeSitemap:
		return f.fetchSitemap(ctx, rawURL)
	case URLTypeDomain:
		return f.crawlDomain(ctx, rawURL)
	default:
		page, _, err := f.fetchPage(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return []Page{page}, nil
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("knowledgebase: build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("knowledgebase: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", ErrNotFound
	case resp.StatusCode >= 400:
		return nil, "", fmt.Errorf("knowledgebase: fetch %s: status %s", rawURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("knowledgebase: read %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) fetchPage(ctx context.Context, rawURL string) (Page, []string, error) {
	body, contentType, err := f.get(ctx, rawURL)
	if err != nil {
		return Page{}, nil, err
	}
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return Page{URL: rawURL, Title: rawURL, Text: string(body)}, nil, nil
	}
	title, text, links := ExtractHTML(string(body), rawURL)
	if title == "" {
		title = rawURL
	}
	return Page{URL: rawURL, Title: title, Text: text}, links, nil
}

type sitemapDocument struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// ParseSitemap returns the page locations of a urlset or the child sitemap
// locations of a sitemap index.
func ParseSitemap(data []byte) (pages []string, children []string, err error) {
	var doc sitemapDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("knowledgebase: parse sitemap: %w", err)
	}
	for _, u := range doc.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			pages = append(pages, loc)
		}
	}
	for _, s := range doc.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return pages, children, nil
}

func (f *Fetcher) fetchSitemap(ctx context.Context, rawURL string) ([]Page, error) {
	body, _, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	locations, children, err := ParseSitemap(body)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if len(locations) >= maxSitemapPages {
			break
		}
		childBody, _, err := f.get(ctx, child)
		if err != nil {
			continue
		}
		more, _, err := ParseSitemap(childBody)
		if err == nil {
			locations = append(locations, more...)
		}
	}
	if len(locations) > maxSitemapPages {
		locations = locations[:maxSitemapPages]
	}

	pages := make([]Page, 0, len(locations))
	for _, loc := range locations {
		page, _, err := f.fetchPage(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("knowledgebase: sitemap %s has no reachable pages", rawURL)
	}
	return pages, nil
}

// crawlDomain fetches rawURL and follows same-host links breadth first.
func (f *Fetcher) crawlDomain(ctx context.Context, rawURL string) ([]Page, error) {
	root, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("knowledgebase: parse %s: %w", rawURL, err)
	}

	queue := []string{rawURL}
	seen := map[string]struct{}{canonical(rawURL): {}}
	var pages []Page
	for len(queue) > 0 && len(pages) < maxDomainPages {
		next := queue[0]
		queue = queue[1:]

		page, links, err := f.fetchPage(ctx, next)
		if err != nil {
			if next == rawURL {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		pages = append(pages, page)

		for _, link := range links {
			parsed, err := url.Parse(link)
			if err != nil || !strings.EqualFold(parsed.Host, root.Host) {
				continue
			}
			key := canonical(link)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			queue = append(queue, link)
		}
	}
	return pages, nil
}

func canonical(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.Fragment = ""
	parsed.RawQuery = ""
	return strings.TrimRight(strings.ToLower(parsed.String()), "/")
}

// ExtractHTML returns the title, visible text and absolute http(s) links
// of an HTML document.
func ExtractHTML(document, baseURL string) (string, string, []string) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", document, nil
	}
	base, _ := url.Parse(baseURL)

	var (
		title string
		text  strings.Builder
		links []string
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "svg", "nav", "footer":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "a":
				for _, attr := range n.Attr {
					if attr.Key != "href" || base == nil {
						continue
					}
					ref, err := url.Parse(strings.TrimSpace(attr.Val))
					if err != nil {
						continue
					}
					abs := base.ResolveReference(ref)
					if abs.Scheme == "http" || abs.Scheme == "https" {
						abs.Fragment = ""
						links = append(links, abs.String())
					}
				}
			case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "section", "article":
				text.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				text.WriteString(trimmed)
				text.WriteByte(' ')
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return title, cleanText(text.String()), links
}
