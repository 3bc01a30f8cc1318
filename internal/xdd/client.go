// Package xdd queries the xDD (GeoDeepDive) full-text archive for recently
// acquired articles.
package xdd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"

	"github.com/pubcurate/pubcurate/internal/records"
)

// NonDOI is recorded for articles whose first identifier is not a DOI.
const NonDOI = "Non-DOI Article ID type"

const maxAttempts = 10

var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ErrInvalidQuery is returned by Validate.
var ErrInvalidQuery = errors.New("invalid xdd query")

// Query selects articles either by recency or by acquisition date range.
type Query struct {
	Recent  int    `json:"n_recent,omitempty"`
	MinDate string `json:"min_date,omitempty"`
	MaxDate string `json:"max_date,omitempty"`
	Term    string `json:"term,omitempty"`
}

// Validate checks that exactly one of Recent or a date range is set and that
// dates are YYYY-MM-DD.
func (q Query) Validate() error {
	hasRange := q.MinDate != "" || q.MaxDate != ""
	switch {
	case q.Recent < 0:
		return fmt.Errorf("%w: n_recent must be positive", ErrInvalidQuery)
	case q.Recent == 0 && !hasRange:
		return fmt.Errorf("%w: either n_recent or a date range should be specified", ErrInvalidQuery)
	case q.Recent > 0 && hasRange:
		return fmt.Errorf("%w: only one of n_recent or a date range should be specified", ErrInvalidQuery)
	}
	for name, d := range map[string]string{"min_date": q.MinDate, "max_date": q.MaxDate} {
		if d != "" && !dateRegex.MatchString(d) {
			return fmt.Errorf("%w: %s should be a string with format yyyy-mm-dd, got %q", ErrInvalidQuery, name, d)
		}
	}
	return nil
}

// Result holds the articles a query produced along with the query itself.
type Result struct {
	Query    Query             `json:"query"`
	Articles []records.Article `json:"articles"`
	Pages    int               `json:"pages"`
}

// Client is an xDD API client.
type Client struct {
	baseURL    string
	http       *http.Client
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient creates a Client for the API rooted at baseURL, for example
// https://xdd.wisc.edu/api.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 60 * time.Second},
		retryDelay: time.Second,
		logger:     slog.Default(),
	}
}

// Search runs q, following next_page links, and converts the hits into
// Articles. Hits whose GDDID is in known are skipped; pass nil to keep all.
func (c *Client) Search(ctx context.Context, q Query, known map[string]bool) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, err
	}

	b := requests.URL(c.baseURL + "/articles")
	if q.Recent > 0 {
		c.logger.Info("querying xdd", "n_recent", q.Recent)
		b = b.Param("recent", "").Param("max", strconv.Itoa(q.Recent))
	} else {
		c.logger.Info("querying xdd", "min_date", q.MinDate, "max_date", q.MaxDate)
		if q.MinDate != "" {
			b = b.Param("min_acquired", q.MinDate)
		}
		if q.MaxDate != "" {
			b = b.Param("max_acquired", q.MaxDate)
		}
		b = b.Param("full_results", "true")
	}
	if q.Term != "" {
		b = b.Param("term", q.Term)
	}

	res := Result{Query: q}
	seen := make(map[string]bool)
	skipped := 0
	page := b
	for page != nil {
		body, err := c.fetch(ctx, page)
		if err != nil {
			return res, fmt.Errorf("fetching page %d: %w", res.Pages+1, err)
		}
		res.Pages++

		data := gjson.Get(body, "success.data")
		c.logger.Info("xdd page received", "page", res.Pages, "articles", len(data.Array()))
		data.ForEach(func(_, a gjson.Result) bool {
			art := toArticle(a)
			if art.GDDID == "" || seen[art.GDDID] {
				return true
			}
			seen[art.GDDID] = true
			if known[art.GDDID] {
				skipped++
				return true
			}
			res.Articles = append(res.Articles, art)
			return true
		})

		next := gjson.Get(body, "success.next_page").String()
		if next == "" {
			page = nil
		} else {
			page = requests.URL(next)
		}
	}

	c.logger.Info("xdd query completed", "new", len(res.Articles), "already_known", skipped)
	return res, nil
}

// fetch retrieves one page, retrying non-200 responses.
func (c *Client) fetch(ctx context.Context, b *requests.Builder) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var body string
		err := b.Clone().
			Client(c.http).
			CheckStatus(http.StatusOK).
			ToString(&body).
			Fetch(ctx)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		c.logger.Warn("xdd request failed, retrying", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return "", fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func toArticle(a gjson.Result) records.Article {
	art := records.Article{
		GDDID:  a.Get("_gddid").String(),
		DOI:    NonDOI,
		URL:    a.Get("link.0.url").String(),
		Status: "queried",
	}
	if a.Get("identifier.0.type").String() == "doi" {
		art.DOI = a.Get("identifier.0.id").String()
	}
	return art
}
