package scraper

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// imageAttrs are read in order; lazy-load attributes win over src.
var imageAttrs = []string{"data-src", "data-lazy-src", "data-original", "data-lazy", "data-image", "src"}

var (
	dataImageAttrs  = []string{"data-image", "data-img", "data-photo", "data-picture"}
	backgroundImage = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)
)

const maxAncestorDepth = 3

// ResolveImage finds the best image URL for a listing container.
func ResolveImage(sel *goquery.Selection, imgSelector string, base *url.URL) string {
	if imgSelector == "" {
		imgSelector = "img"
	}

	if raw := firstImageAttr(withSelf(sel, imgSelector)); raw != "" {
		return ResolveURL(base, raw)
	}

	var found string
	withSelf(sel, `[style*="background"]`).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		match := backgroundImage.FindStringSubmatch(el.AttrOr("style", ""))
		if match != nil && usableImage(match[1]) {
			found = strings.TrimSpace(match[1])
			return false
		}
		return true
	})
	if found != "" {
		return ResolveURL(base, found)
	}

	withSelf(sel, "[data-image], [data-img], [data-photo], [data-picture]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		for _, attr := range dataImageAttrs {
			if v, ok := el.Attr(attr); ok && usableImage(v) {
				found = strings.TrimSpace(v)
				return false
			}
		}
		return true
	})
	if found != "" {
		return ResolveURL(base, found)
	}

	sel.Find("picture source[srcset], source[srcset], img[srcset]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if v := lastSrcsetEntry(el.AttrOr("srcset", "")); usableImage(v) {
			found = v
			return false
		}
		return true
	})
	if found != "" {
		return ResolveURL(base, found)
	}

	parent := sel.Parent()
	for depth := 0; depth < maxAncestorDepth && parent.Length() > 0; depth++ {
		if raw := firstImageAttr(parent.Find("img")); raw != "" {
			return ResolveURL(base, raw)
		}
		parent = parent.Parent()
	}
	return ""
}

// withSelf matches selector against sel and its descendants.
func withSelf(sel *goquery.Selection, selector string) *goquery.Selection {
	return sel.Filter(selector).AddSelection(sel.Find(selector))
}

func firstImageAttr(imgs *goquery.Selection) string {
	var found string
	imgs.EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, attr := range imageAttrs {
			if v, ok := img.Attr(attr); ok && usableImage(v) {
				found = strings.TrimSpace(v)
				return false
			}
		}
		return true
	})
	return found
}

func usableImage(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "about:") {
		return false
	}
	return !strings.Contains(lower, "placeholder") && !strings.Contains(lower, "spacer")
}

// lastSrcsetEntry returns the URL of the final, usually largest, srcset candidate.
func lastSrcsetEntry(srcset string) string {
	parts := strings.Split(srcset, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		fields := strings.Fields(parts[i])
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// ResolveURL resolves raw against base. Protocol-relative URLs become https.
// Script, data and fragment-only references resolve to "".
func ResolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return ""
	}
	lower := strings.ToLower(raw)
	for _, scheme := range []string{"javascript:", "data:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ref.IsAbs() || base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
