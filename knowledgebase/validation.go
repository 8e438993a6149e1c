package knowledgebase

import (
	"net/url"
	"regexp"
	"strings"

	"municonsole_back/apperr"
)

const (
	DefaultURLPattern = `^https?://[^\s/$.?#].[^\s]*$`

	MsgInvalidSingleURL  = "Please enter a valid single URL"
	MsgInvalidSitemapURL = "Please enter a valid sitemap URL"
	MsgInvalidDomainURL  = "Please enter a valid domain URL"

	msgTitleRequired   = "Title is required"
	msgSourceInvalid   = "Source must be document, link, sitemap or text"
	msgURLTypeInvalid  = "URL type must be single-url, sitemap or domain"
	msgContentRequired = "Content is required"
	msgStorageRequired = "Upload a file first"
	msgRefreshInvalid  = "Refresh frequency must be never, daily, weekly or monthly"
)

// Validator checks item fields. The single URL pattern is configurable.
type Validator struct {
	singleURL *regexp.Regexp
}

// NewValidator compiles pattern, falling back to DefaultURLPattern when it
// is empty or invalid.
func NewValidator(pattern string) *Validator {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = DefaultURLPattern
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		compiled = regexp.MustCompile(DefaultURLPattern)
	}
	return &Validator{singleURL: compiled}
}

// URL validates raw for urlType and returns the message to show, or "".
func (v *Validator) URL(urlType, raw string) string {
	raw = strings.TrimSpace(raw)
	switch urlType {
	case URLTypeSingle:
		if !v.singleURL.MatchString(raw) {
			return MsgInvalidSingleURL
		}
	case URLTypeSitemap:
		parsed, ok := httpURL(raw)
		if !ok || !strings.HasSuffix(strings.ToLower(parsed.Path), ".xml") {
			return MsgInvalidSitemapURL
		}
	case URLTypeDomain:
		if _, ok := httpURL(raw); !ok {
			return MsgInvalidDomainURL
		}
	default:
		return msgURLTypeInvalid
	}
	return ""
}

// Item checks a fully populated item and returns every failing field.
func (v *Validator) Item(item *Item) error {
	fields := map[string]string{}
	if strings.TrimSpace(item.Title) == "" {
		fields["title"] = msgTitleRequired
	}
	switch item.Source {
	case SourceLink, SourceSitemap:
		switch {
		case item.Source == SourceSitemap:
			item.URLType = URLTypeSitemap
		case item.URLType == "":
			item.URLType = URLTypeSingle
		}
		if msg := v.URL(item.URLType, item.URL); msg != "" {
			fields["url"] = msg
		}
	case SourceDocument:
		if item.StorageID == "" && strings.TrimSpace(item.Content) == "" {
			fields["storage_id"] = msgStorageRequired
		}
	case SourceText:
		if strings.TrimSpace(item.Content) == "" {
			fields["content"] = msgContentRequired
		}
	default:
		fields["source"] = msgSourceInvalid
	}
	if refreshPeriod(item.RefreshFrequency) == 0 && item.RefreshFrequency != RefreshNever {
		fields["refresh_frequency"] = msgRefreshInvalid
	}
	if len(fields) > 0 {
		return apperr.Invalid("invalid knowledge item", fields)
	}
	return nil
}

func httpURL(raw string) (*url.URL, bool) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, false
	}
	return parsed, true
}
