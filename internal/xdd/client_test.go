package xdd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		ok   bool
	}{
		{"recent", Query{Recent: 10}, true},
		{"range", Query{MinDate: "2024-01-01", MaxDate: "2024-02-01"}, true},
		{"min only", Query{MinDate: "2024-01-01"}, true},
		{"nothing", Query{}, false},
		{"both", Query{Recent: 5, MinDate: "2024-01-01"}, false},
		{"bad date", Query{MaxDate: "01/02/2024"}, false},
		{"negative", Query{Recent: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("err = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func newTestClient(url string) *Client {
	c := NewClient(url)
	c.retryDelay = 0
	return c
}

func TestSearch_PaginatesAndDedupes(t *testing.T) {
	var failures atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("page") == "2":
			fmt.Fprint(w, `{"success":{"next_page":"","data":[
				{"_gddid":"g3","identifier":[{"type":"pii","id":"S0"}],"link":[{"url":"https://x/3"}]},
				{"_gddid":"g1","identifier":[{"type":"doi","id":"10.1/a"}],"link":[{"url":"https://x/1"}]}]}}`)
		case q.Get("min_acquired") == "2024-01-01" && q.Get("full_results") == "true" && q.Get("term") == "pollen":
			if failures.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintf(w, `{"success":{"next_page":"%s/articles?page=2","data":[
				{"_gddid":"g1","identifier":[{"type":"doi","id":"10.1/a"}],"link":[{"url":"https://x/1"}]},
				{"_gddid":"g2","identifier":[{"type":"doi","id":"10.1/b"}],"link":[{"url":"https://x/2"}]}]}}`, srv.URL)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Search(context.Background(),
		Query{MinDate: "2024-01-01", Term: "pollen"},
		map[string]bool{"g2": true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if res.Pages != 2 {
		t.Errorf("Pages = %d, want 2", res.Pages)
	}
	if len(res.Articles) != 2 {
		t.Fatalf("Articles = %+v, want g1 and g3", res.Articles)
	}
	if res.Articles[0].GDDID != "g1" || res.Articles[0].DOI != "10.1/a" || res.Articles[0].Status != "queried" {
		t.Errorf("first = %+v", res.Articles[0])
	}
	if res.Articles[1].DOI != NonDOI || res.Articles[1].URL != "https://x/3" {
		t.Errorf("second = %+v", res.Articles[1])
	}
	if res.Query.Term != "pollen" {
		t.Errorf("Query = %+v", res.Query)
	}
}

func TestSearch_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Search(context.Background(), Query{Recent: 5}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != maxAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), maxAttempts)
	}
}
