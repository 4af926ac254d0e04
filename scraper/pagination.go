package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoPageURL is returned when a link-driven paginator has no URL for a page.
var ErrNoPageURL = errors.New("scraper: no url discovered for page")

// paginationLinkSelectors are always inspected during total-page discovery.
var paginationLinkSelectors = []string{
	".pagination a",
	`[class*="pagination"] a`,
	".pager a",
	`[class*="pager"] a`,
	`a[rel="next"]`,
}

var (
	pageOfPattern = regexp.MustCompile(`(?i)\b(?:page|pagina|página|seite|pag\.)\s*\d+\s*(?:of|di|de|von|sur|/)\s*(\d+)`)
	hrefSuffix    = regexp.MustCompile(`_(\d+)\.html?(?:$|[?#])`)
	hrefPathPage  = regexp.MustCompile(`/page/(\d+)`)
	hrefQueryPage = regexp.MustCompile(`[?&](?:page|p|pg)=(\d+)`)
)

// Paginator builds per-page URLs for one job. Total pages are discovered once.
type Paginator struct {
	seed     string
	p        Pagination
	maxPages int

	once  sync.Once
	total int
	links map[int]string
}

// NewPaginator returns a paginator for seed. maxPages caps discovery (0 = no cap).
// p.StartPage is used as given; 0 means the site numbers pages from zero.
func NewPaginator(p Pagination, seed string, maxPages int) *Paginator {
	return &Paginator{seed: seed, p: p, maxPages: maxPages}
}

// URL returns the URL to fetch for the 1-based page. Page 1 is always the seed.
func (pg *Paginator) URL(page int) (string, error) {
	if page <= 1 {
		return pg.seed, nil
	}
	value := page + pg.p.StartPage - 1

	switch pg.p.Kind {
	case PaginationQuery:
		u, err := url.Parse(pg.seed)
		if err != nil {
			return "", fmt.Errorf("parse seed url: %w", err)
		}
		q := u.Query()
		q.Set(pg.p.Param, strconv.Itoa(value))
		u.RawQuery = q.Encode()
		return u.String(), nil
	case PaginationPath:
		u, err := url.Parse(pg.seed)
		if err != nil {
			return "", fmt.Errorf("parse seed url: %w", err)
		}
		segment := strings.ReplaceAll(pg.p.PathPattern, "{page}", strconv.Itoa(value))
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(segment, "/")
		u.RawPath = ""
		return u.String(), nil
	case PaginationCustom:
		if pg.p.Builder == nil {
			return "", fmt.Errorf("custom pagination without builder")
		}
		return pg.p.Builder(pg.seed, page)
	case PaginationLinks:
		if link, ok := pg.links[page]; ok {
			return link, nil
		}
		return "", fmt.Errorf("page %d: %w", page, ErrNoPageURL)
	default:
		return "", fmt.Errorf("page %d: pagination kind %q has a single page", page, pg.p.Kind)
	}
}

// Discover inspects the first page and fixes the total page count for the job.
// Later calls return the first result.
func (pg *Paginator) Discover(doc *goquery.Document) int {
	pg.once.Do(func() {
		if pg.p.Kind == PaginationNone {
			pg.total = 1
			return
		}
		pg.total = DiscoverTotalPages(doc, pg.p)
		if pg.p.Kind == PaginationLinks {
			pg.links = collectPageLinks(doc, pg.p, pg.seed)
			// Only pages with a discovered link can be fetched.
			reachable := 1
			for n := range pg.links {
				if n > reachable {
					reachable = n
				}
			}
			if reachable < pg.total {
				pg.total = reachable
			}
		}
		if pg.maxPages > 0 && pg.total > pg.maxPages {
			pg.total = pg.maxPages
		}
	})
	return pg.total
}

// DiscoverTotalPages reads "page X of Y" text, then the highest page index in
// pagination links, and defaults to 1.
func DiscoverTotalPages(doc *goquery.Document, p Pagination) int {
	if doc == nil {
		return 1
	}
	if match := pageOfPattern.FindStringSubmatch(doc.Find("body").Text()); match != nil {
		if total, err := strconv.Atoi(match[1]); err == nil && total > 0 {
			return total
		}
	}

	highest := 1
	eachPaginationLink(doc, p, func(link *goquery.Selection) {
		if n := linkPageNumber(link, p); n > highest {
			highest = n
		}
	})
	return highest
}

func eachPaginationLink(doc *goquery.Document, p Pagination, fn func(*goquery.Selection)) {
	selectors := paginationLinkSelectors
	if p.LinkSelector != "" {
		selectors = append([]string{p.LinkSelector}, selectors...)
	}
	visited := make(map[string]struct{})
	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			links := sel
			if !sel.Is("a") {
				links = sel.Find("a")
			}
			links.Each(func(_ int, link *goquery.Selection) {
				key := link.AttrOr("href", "") + "|" + strings.TrimSpace(link.Text())
				if _, ok := visited[key]; ok {
					return
				}
				visited[key] = struct{}{}
				fn(link)
			})
		})
	}
}

func linkPageNumber(link *goquery.Selection, p Pagination) int {
	best := 0
	if n, err := strconv.Atoi(strings.TrimSpace(link.Text())); err == nil && n > best {
		best = n
	}

	href := link.AttrOr("href", "")
	if href == "" {
		return best
	}
	patterns := []*regexp.Regexp{hrefSuffix, hrefPathPage, hrefQueryPage}
	if p.Kind == PaginationQuery && p.Param != "" {
		patterns = append(patterns, regexp.MustCompile(`[?&]`+regexp.QuoteMeta(p.Param)+`=(\d+)`))
	}
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(href)
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	return best
}

func collectPageLinks(doc *goquery.Document, p Pagination, seed string) map[int]string {
	base, err := url.Parse(seed)
	if err != nil {
		base = nil
	}
	links := make(map[int]string)
	eachPaginationLink(doc, p, func(link *goquery.Selection) {
		n := linkPageNumber(link, p)
		if n <= 1 {
			return
		}
		if _, ok := links[n]; ok {
			return
		}
		if resolved := ResolveURL(base, link.AttrOr("href", "")); resolved != "" {
			links[n] = resolved
		}
	})
	return links
}
