// Package crossref fetches and parses bibliographic metadata from the
// CrossRef REST API.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Client talks to the CrossRef works API. It is safe for concurrent use;
// requests share one rate limiter.
type Client struct {
	baseURL   string
	userAgent string
	mailto    string
	limiter   *rate.Limiter
	http      *http.Client
}

// NewClient creates a Client. ratePerSecond bounds outgoing requests; a
// non-positive value disables limiting.
func NewClient(baseURL, userAgent, mailto string, ratePerSecond float64) *Client {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		mailto:    mailto,
		limiter:   rate.NewLimiter(limit, burst),
	}
	c.http = &http.Client{
		Timeout:   20 * time.Second,
		Transport: c.rateLimitTransport(http.DefaultTransport),
	}
	return c
}

func (c *Client) rateLimitTransport(rt http.RoundTripper) http.RoundTripper {
	return requests.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
		return rt.RoundTrip(req)
	})
}

func (c *Client) request(path string) *requests.Builder {
	b := requests.URL(c.baseURL + path).
		Client(c.http).
		UserAgent(c.userAgent).
		Accept("application/json")
	if c.mailto != "" {
		b = b.Header("From", c.mailto).Param("mailto", c.mailto)
	}
	return b
}

// FailureEnvelope is written in place of a CrossRef response when a lookup
// fails, so a missing record is remembered rather than retried forever.
type FailureEnvelope struct {
	Status  string         `json:"status"`
	Message FailureMessage `json:"message"`
}

type FailureMessage struct {
	DOI       string `json:"DOI"`
	Exception string `json:"exception"`
	Date      string `json:"date"`
}

// Lookup returns the raw JSON CrossRef holds for doi. A 404 yields
// ErrNotFound; other failures are returned as they are so callers can retry.
func (c *Client) Lookup(ctx context.Context, doi string) (json.RawMessage, error) {
	var body string
	err := c.request("/works/" + doi).ToString(&body).Fetch(ctx)
	if requests.HasStatusErr(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, doi)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", doi, err)
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("fetching %s: response is not valid JSON", doi)
	}
	return json.RawMessage(body), nil
}

// Fetch returns the raw JSON CrossRef holds for doi. It never fails: when
// the request or the response is unusable it returns a FailureEnvelope
// describing the problem.
func (c *Client) Fetch(ctx context.Context, doi string) json.RawMessage {
	raw, err := c.Lookup(ctx, doi)
	if err != nil {
		return failure(doi, err)
	}
	return raw
}

func failure(doi string, err error) json.RawMessage {
	b, _ := json.Marshal(FailureEnvelope{
		Status: "failure",
		Message: FailureMessage{
			DOI:       doi,
			Exception: err.Error(),
			Date:      time.Now().UTC().Format("2006-01-02 15:04:05.000000"),
		},
	})
	return b
}

// Candidate is a scored search hit.
type Candidate struct {
	DOI   string  `json:"doi"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Search runs a bibliographic query and returns up to rows candidates,
// best score first.
func (c *Client) Search(ctx context.Context, bibliographic string, rows int) ([]Candidate, error) {
	if rows <= 0 {
		rows = 5
	}
	var s string
	err := c.request("/works").
		ParamInt("rows", rows).
		Param("query.bibliographic", bibliographic).
		Param("sort", "score").
		Param("order", "desc").
		ToString(&s).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching crossref: %w", err)
	}

	var out []Candidate
	gjson.Get(s, "message.items").ForEach(func(_, v gjson.Result) bool {
		out = append(out, Candidate{
			DOI:   v.Get("DOI").Str,
			Title: v.Get("title.0").Str,
			Score: v.Get("score").Float(),
		})
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
