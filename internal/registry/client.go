package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"

	"github.com/pubcurate/pubcurate/internal/records"
)

const doiPresentMessage = "DOI already present."

// Client is a REST client for the registry API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for the API rooted at baseURL, for example
// http://localhost:8000/v0.1. Every request is bounded by timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// envelope is the response wrapper used by every registry endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message json.RawMessage `json:"message"`
}

func (e envelope) message() string {
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return s
	}
	return string(e.Message)
}

// hasData reports whether the envelope carries a non-empty payload.
func (e envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	switch string(d) {
	case "", "null", "[]", "{}":
		return false
	}
	return true
}

func (c *Client) request(path string) *requests.Builder {
	b := requests.URL(c.baseURL + path).
		Client(c.httpClient).
		Accept("application/json")
	if c.token != "" {
		b = b.Bearer(c.token)
	}
	return b
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (envelope, error) {
	var env envelope
	b := c.request(path).ToJSON(&env)
	for k, vs := range params {
		if len(vs) > 0 && vs[0] != "" {
			b = b.Param(k, vs...)
		}
	}
	if err := b.Fetch(ctx); err != nil {
		if requests.HasStatusErr(err, http.StatusNotFound) {
			return envelope{}, nil
		}
		return envelope{}, fmt.Errorf("GET %s: %w", path, err)
	}
	return env, nil
}

func (c *Client) exists(ctx context.Context, path string, params url.Values) (bool, error) {
	env, err := c.get(ctx, path, params)
	if err != nil {
		return false, err
	}
	return env.hasData(), nil
}

// post submits v as the form field data=<json>.
func (c *Client) post(ctx context.Context, path string, v any) (envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return envelope{}, fmt.Errorf("encoding %s body: %w", path, err)
	}

	var env envelope
	err = c.request(path).
		BodyForm(url.Values{"data": {string(payload)}}).
		Post().
		ToJSON(&env).
		Fetch(ctx)
	if err != nil {
		return envelope{}, fmt.Errorf("POST %s: %w", path, err)
	}
	return env, nil
}

func (c *Client) create(ctx context.Context, path string, v any) error {
	env, err := c.post(ctx, path, v)
	if err != nil {
		return err
	}
	if env.message() == doiPresentMessage {
		return ErrAlreadyPresent
	}
	if env.Status != "" && env.Status != "success" {
		return fmt.Errorf("POST %s: registry returned %s: %s", path, env.Status, env.message())
	}
	return nil
}

// CreateDOI registers a DOI. The registry reports duplicates itself, so no
// existence check precedes the insert.
func (c *Client) CreateDOI(ctx context.Context, doi string) error {
	return c.create(ctx, "/doi", map[string]string{"doi": doi})
}

// ProjectExists reports whether project is registered.
func (c *Client) ProjectExists(ctx context.Context, project string) (bool, error) {
	return c.exists(ctx, "/projects", url.Values{"project": {project}})
}

// CreateProject registers a project with its notes.
func (c *Client) CreateProject(ctx context.Context, p records.Project) error {
	return c.create(ctx, "/projects", p)
}

// PersonExists reports whether the ORCID is registered.
func (c *Client) PersonExists(ctx context.Context, orcid string) (bool, error) {
	return c.exists(ctx, "/people", url.Values{"orcid": {orcid}})
}

// CreatePerson registers an ORCID.
func (c *Client) CreatePerson(ctx context.Context, orcid string) error {
	return c.create(ctx, "/people", records.Person{ORCID: orcid})
}

// LabelExists reports whether label is registered for project.
func (c *Client) LabelExists(ctx context.Context, label, project string) (bool, error) {
	return c.exists(ctx, "/labels", url.Values{"label": {label}, "project": {project}})
}

// CreateLabel registers a label for its project.
func (c *Client) CreateLabel(ctx context.Context, l records.Label) error {
	return c.create(ctx, "/labels", l)
}

// PaperLabelExists reports whether the same person already applied the
// label to the DOI within the project.
func (c *Client) PaperLabelExists(ctx context.Context, pl records.PaperLabel) (bool, error) {
	return c.exists(ctx, "/doi/labels", url.Values{
		"doi":     {pl.DOI},
		"label":   {pl.Label},
		"project": {pl.Project},
		"orcid":   {pl.Person},
	})
}

// CreatePaperLabel records a label applied to a DOI.
func (c *Client) CreatePaperLabel(ctx context.Context, pl records.PaperLabel) error {
	return c.create(ctx, "/doi/labels", map[string]string{
		"doi":     strings.TrimSpace(pl.DOI),
		"label":   strings.TrimSpace(pl.Label),
		"project": strings.TrimSpace(pl.Project),
		"orcid":   strings.TrimSpace(pl.Person),
	})
}

// Embedding returns the stored embedding for (doi, model), or nil when
// there is none.
func (c *Client) Embedding(ctx context.Context, doi, model string) (*records.Embedding, error) {
	env, err := c.get(ctx, "/doi/embeddings", url.Values{"doi": {doi}, "model": {model}})
	if err != nil {
		return nil, err
	}
	if !env.hasData() {
		return nil, nil
	}

	data := gjson.ParseBytes(env.Data)
	if data.IsArray() {
		data = data.Get("0")
	}
	vec, err := decodeVector(data.Get("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("decoding embedding for %s: %w", doi, err)
	}
	e := &records.Embedding{DOI: doi, Model: model, Embeddings: vec}
	if d := data.Get("date"); d.Exists() {
		e.Date = parseDate(d.String())
	}
	return e, nil
}

// CreateEmbedding submits an embedding.
func (c *Client) CreateEmbedding(ctx context.Context, e records.Embedding) error {
	return c.create(ctx, "/doi/embeddings", e)
}

// ModelData returns the labelled embeddings available for training.
func (c *Client) ModelData(ctx context.Context, model, project string) ([]records.ModelRow, error) {
	env, err := c.get(ctx, "/modeldata", url.Values{"model": {model}, "project": {project}})
	if err != nil {
		return nil, err
	}
	if !env.hasData() {
		return nil, nil
	}

	var rows []records.ModelRow
	var decodeErr error
	gjson.ParseBytes(env.Data).ForEach(func(_, v gjson.Result) bool {
		vec, err := decodeVector(v.Get("embeddings"))
		if err != nil {
			decodeErr = fmt.Errorf("decoding embeddings for %s: %w", v.Get("doi").String(), err)
			return false
		}
		rows = append(rows, records.ModelRow{
			DOI:        v.Get("doi").String(),
			Embeddings: vec,
			Label:      v.Get("label").String(),
			Project:    v.Get("project").String(),
		})
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return rows, nil
}

// PublicationsToEmbed lists publications that have no embedding for model.
func (c *Client) PublicationsToEmbed(ctx context.Context, model string) ([]records.Publication, error) {
	env, err := c.get(ctx, "/doi/toembed", url.Values{"embeddingmodel": {model}})
	if err != nil {
		return nil, err
	}
	payload := env.Data
	if !env.hasData() {
		// Older deployments return the list under "message".
		payload = env.Message
	}

	var pubs []records.Publication
	gjson.ParseBytes(payload).ForEach(func(_, v gjson.Result) bool {
		pubs = append(pubs, records.Publication{
			DOI:      v.Get("doi").String(),
			Title:    v.Get("title").String(),
			Subtitle: v.Get("subtitle").String(),
			Abstract: v.Get("abstract").String(),
			Language: v.Get("language").String(),
			Subjects: subjects(v.Get("subject")),
			Valid:    true,
		})
		return true
	})
	return pubs, nil
}

// subjects accepts the subject list as a JSON array or a comma separated
// string.
func subjects(r gjson.Result) []string {
	var out []string
	if r.IsArray() {
		r.ForEach(func(_, v gjson.Result) bool {
			if s := strings.TrimSpace(v.String()); s != "" {
				out = append(out, s)
			}
			return true
		})
		return out
	}
	for _, s := range strings.Split(r.String(), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// decodeVector accepts an embedding either as a JSON array or as a JSON
// array serialized into a string.
func decodeVector(r gjson.Result) ([]float32, error) {
	if r.Type == gjson.String {
		r = gjson.Parse(r.Str)
	}
	if !r.IsArray() {
		return nil, fmt.Errorf("embeddings is not an array")
	}
	arr := r.Array()
	vec := make([]float32, len(arr))
	for i, x := range arr {
		if x.Type != gjson.Number {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		vec[i] = float32(x.Float())
	}
	return vec, nil
}

func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
