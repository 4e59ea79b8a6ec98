package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/set-night/skylog/internal/config"
	"github.com/set-night/skylog/internal/tools"
)

// LogReference serves message documentation scraped from the ArduPilot
// log message reference page. Lookups never block on the network; they
// read whatever the last successful refresh cached.
type LogReference struct {
	httpClient *http.Client
	url        string
	cache      *ReferenceCache
}

func NewLogReference(url string) *LogReference {
	return &LogReference{
		httpClient: &http.Client{Timeout: config.ReferenceFetchTimeout},
		url:        url,
		cache:      NewReferenceCache(config.ReferenceCacheDuration),
	}
}

// Lookup is safe on a nil receiver.
func (r *LogReference) Lookup(name string) (tools.MessageDoc, bool) {
	if r == nil {
		return tools.MessageDoc{}, false
	}
	docs := r.cache.Stale()
	doc, ok := docs[strings.ToUpper(name)]
	return doc, ok
}

// Refresh downloads and parses the reference page unless the cache is fresh.
func (r *LogReference) Refresh(ctx context.Context) error {
	if r.cache.Get() != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch reference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch reference: status %d", resp.StatusCode)
	}

	docs, err := ParseReference(resp.Body)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("parse reference: no messages found")
	}
	r.cache.Set(docs)
	slog.Info("log reference loaded", "messages", len(docs))
	return nil
}

// Run refreshes on start and then every interval until ctx is done.
func (r *LogReference) Run(ctx context.Context, interval time.Duration) {
	if err := r.Refresh(ctx); err != nil {
		slog.Warn("log reference refresh failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				slog.Warn("log reference refresh failed", "error", err)
			}
		}
	}
}

// ParseReference extracts message docs from the reference HTML. Each message
// is a section headed by its name, followed by a description paragraph and a
// field table whose first column is the field name and last is its meaning.
func ParseReference(body io.Reader) (map[string]tools.MessageDoc, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse reference: %w", err)
	}

	docs := make(map[string]tools.MessageDoc)
	doc.Find("section, div.section").Each(func(_ int, s *goquery.Selection) {
		heading := s.ChildrenFiltered("h2").First()
		if heading.Length() == 0 {
			return
		}
		name := cleanText(heading.Text())
		if name == "" || strings.ContainsAny(name, " \t") {
			return
		}

		md := tools.MessageDoc{
			Name:        name,
			Description: cleanText(s.ChildrenFiltered("p").First().Text()),
			Fields:      make(map[string]string),
		}
		s.ChildrenFiltered("table").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			field := cleanText(cells.First().Text())
			if field == "" {
				return
			}
			md.Fields[field] = cleanText(cells.Last().Text())
		})
		docs[strings.ToUpper(name)] = md
	})
	return docs, nil
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "¶", "")
	return strings.Join(strings.Fields(s), " ")
}
