package models

import (
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// productNamespace scopes name-based product ids.
var productNamespace = uuid.MustParse("6f1c3c52-5a4e-4d3b-9a57-3f0f3c2a9b10")

// ProductID derives the stable id of a product from its brand and listing URL.
func ProductID(brandID, rawURL string) string {
	return uuid.NewSHA1(productNamespace, []byte(brandID+"|"+NormalizeURL(rawURL))).String()
}

// NormalizeURL canonicalises a product URL so that equivalent spellings
// map to the same product id. Unparseable input is trimmed and returned.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}

	if u.RawQuery != "" {
		query := u.Query()
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := url.Values{}
		for _, k := range keys {
			vals := append([]string(nil), query[k]...)
			sort.Strings(vals)
			values[k] = vals
		}
		u.RawQuery = values.Encode()
	}
	return u.String()
}
