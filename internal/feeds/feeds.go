package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/beingSCK/work-journal-summarizer/internal/domain"
)

const userAgent = "WorkContinuityBot/1.0"

// FeedError wraps a single feed failure. One bad feed never aborts the
// heartbeat; the digest just carries fewer headlines.
type FeedError struct {
	Feed string
	Err  error
}

func (e *FeedError) Error() string { return fmt.Sprintf("feed %s: %v", e.Feed, e.Err) }

func (e *FeedError) Unwrap() error { return e.Err }

// Source is one configured feed.
type Source struct {
	Name string
	URL  string
}

// Fetcher pulls headlines from RSS/Atom sources.
type Fetcher struct {
	Client       *http.Client
	UserAgent    string
	ItemsPerFeed int
}

func New(timeout time.Duration, itemsPerFeed int) *Fetcher {
	return &Fetcher{
		Client:       &http.Client{Timeout: timeout},
		UserAgent:    userAgent,
		ItemsPerFeed: itemsPerFeed,
	}
}

// Fetch returns up to ItemsPerFeed headlines from one source, in feed order.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]domain.Headline, error) {
	p := gofeed.NewParser()
	p.Client = f.Client
	p.UserAgent = f.UserAgent

	feed, err := p.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, &FeedError{Feed: src.Name, Err: err}
	}

	max := f.ItemsPerFeed
	if max < 1 {
		max = 3
	}
	var out []domain.Headline
	for _, item := range feed.Items {
		if len(out) >= max {
			break
		}
		title := stripHTML(item.Title)
		if title == "" {
			continue
		}
		out = append(out, domain.Headline{
			Source:    src.Name,
			Title:     title,
			Link:      strings.TrimSpace(item.Link),
			Summary:   truncate(stripHTML(item.Description), 200),
			Published: item.PublishedParsed,
		})
	}
	return out, nil
}

// FetchAll fetches every source in order. Failures come back as errors per
// source; successful sources still contribute their headlines.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]domain.Headline, []error) {
	var (
		headlines []domain.Headline
		errs      []error
	)
	for _, src := range sources {
		hs, err := f.Fetch(ctx, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		headlines = append(headlines, hs...)
	}
	return headlines, errs
}

// stripHTML flattens feed HTML to one line of plain text.
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}

	skipTags := map[string]bool{
		"script": true, "style": true, "iframe": true, "noscript": true,
	}
	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)
	return strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " "))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
