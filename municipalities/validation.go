package municipalities

import (
	"net/url"
	"strings"

	"municonsole_back/apperr"
)

const (
	msgNameRequired   = "Name is required"
	msgCountryInvalid = "Country code must be a two-letter ISO code"
	msgWebsiteInvalid = "Website must be a valid http(s) URL"

	// MsgConfirmationMismatch is returned when a delete is not confirmed by
	// typing the exact municipality name.
	MsgConfirmationMismatch = "confirmation text must match the municipality name"
)

// normalize trims the input in place and returns field errors, if any.
// create requires name and country code.
func normalize(in *Input, create bool) error {
	fields := map[string]string{}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
		if name == "" {
			fields["name"] = msgNameRequired
		}
	} else if create {
		fields["name"] = msgNameRequired
	}

	if in.CountryCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*in.CountryCode))
		in.CountryCode = &code
		if !isCountryCode(code) {
			fields["country_code"] = msgCountryInvalid
		}
	} else if create {
		fields["country_code"] = msgCountryInvalid
	}

	if in.Website != nil {
		website := strings.TrimSpace(*in.Website)
		in.Website = &website
		if website != "" && !isHTTPURL(website) {
			fields["website"] = msgWebsiteInvalid
		}
	}

	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		in.Description = &description
	}

	if len(fields) > 0 {
		return apperr.Invalid("invalid municipality", fields)
	}
	return nil
}

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// ConfirmDelete reports whether confirmation exactly equals name. No
// trimming or case folding is applied.
func ConfirmDelete(name, confirmation string) bool {
	return name != "" && confirmation == name
}
