package crossref

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const workJSON = `{
  "status": "ok",
  "message": {
    "DOI": "10.1016/j.quascirev.2020.106388",
    "Title": ["Holocene pollen from lake sediments"],
    "subtitle": ["a synthesis"],
    "author": [{"given": "Ana", "family": "Silva", "ORCID": "https://orcid.org/0000-0002-2700-4605", "sequence": "first"}],
    "subject": ["Geology", "Palaeontology"],
    "abstract": "<jats:p>Fossil pollen records.</jats:p>",
    "container-title": ["Quaternary Science Reviews", "QSR"],
    "language": "en",
    "published": {"date-parts": [[2020, 7]]},
    "publisher": "Elsevier BV",
    "URL": "http://dx.doi.org/10.1016/j.quascirev.2020.106388",
    "reference-count": 112
  }
}`

func TestParse(t *testing.T) {
	pub, err := Parse([]byte(workJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if pub.DOI != "10.1016/j.quascirev.2020.106388" {
		t.Errorf("DOI = %q", pub.DOI)
	}
	if pub.Title != "Holocene pollen from lake sediments" {
		t.Errorf("Title = %q", pub.Title)
	}
	if pub.ContainerTitle != "Quaternary Science Reviews: QSR" {
		t.Errorf("ContainerTitle = %q", pub.ContainerTitle)
	}
	if pub.Published != "2020-07" {
		t.Errorf("Published = %q", pub.Published)
	}
	if pub.URL == "" {
		t.Error("URL should be matched case-insensitively")
	}
	if len(pub.Authors) != 1 || pub.Authors[0].Family != "Silva" {
		t.Errorf("Authors = %+v", pub.Authors)
	}
	if len(pub.Subjects) != 2 {
		t.Errorf("Subjects = %v", pub.Subjects)
	}
	if !pub.Valid || pub.Date.IsZero() {
		t.Errorf("Valid = %v, Date = %v", pub.Valid, pub.Date)
	}
}

func TestParse_Failure(t *testing.T) {
	raw := failure("10.1000/missing", errors.New("404 Not Found"))
	if _, err := Parse(raw); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := Parse([]byte("Resource not found.")); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}

func TestFetch(t *testing.T) {
	var gotUA, gotFrom, gotMailto string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotFrom = r.Header.Get("From")
		gotMailto = r.URL.Query().Get("mailto")
		switch r.URL.Path {
		case "/works/10.1016/j.quascirev.2020.106388":
			w.Write([]byte(workJSON))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Resource not found."))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "pubcurate-test", "curator@example.org", 0)

	raw := c.Fetch(context.Background(), "10.1016/j.quascirev.2020.106388")
	if _, err := Parse(raw); err != nil {
		t.Fatalf("Parse(fetched): %v", err)
	}
	if gotUA != "pubcurate-test" || gotFrom != "curator@example.org" || gotMailto != "curator@example.org" {
		t.Errorf("headers: UA=%q From=%q mailto=%q", gotUA, gotFrom, gotMailto)
	}

	raw = c.Fetch(context.Background(), "10.1000/missing")
	var env FailureEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failure envelope: %v", err)
	}
	if env.Status != "failure" || env.Message.DOI != "10.1000/missing" || env.Message.Exception == "" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query.bibliographic") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"message":{"items":[
			{"DOI":"10.1/low","title":["Low"],"score":12.5},
			{"DOI":"10.1/high","title":["High"],"score":80.1}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "pubcurate-test", "", 5)
	got, err := c.Search(context.Background(), "pollen lake sediments", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].DOI != "10.1/high" {
		t.Errorf("Search = %+v", got)
	}
}

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/works/10.1016/j.quascirev.2020.106388":
			w.Write([]byte(workJSON))
		case "/works/10.1000/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Resource not found."))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "pubcurate-test", "", 0)
	ctx := context.Background()

	raw, err := c.Lookup(ctx, "10.1016/j.quascirev.2020.106388")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := Parse(raw); err != nil {
		t.Errorf("Parse(looked up): %v", err)
	}

	if _, err := c.Lookup(ctx, "10.1000/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing DOI: err = %v, want ErrNotFound", err)
	}

	_, err = c.Lookup(ctx, "10.1000/busy")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("unavailable service: err = %v, want a retryable error", err)
	}
}
