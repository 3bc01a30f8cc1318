package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pubcurate/pubcurate/internal/ident"
	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/registry"
	"github.com/pubcurate/pubcurate/internal/retrieval"
	"github.com/pubcurate/pubcurate/internal/storage"
)

// --- mocks ---

type mockFetcher map[string]string

func (m mockFetcher) Fetch(_ context.Context, doi string) json.RawMessage {
	if w, ok := m[doi]; ok {
		return json.RawMessage(w)
	}
	return json.RawMessage(`{"status":"failure","message":{"DOI":"` + doi + `","exception":"404 Not Found"}}`)
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store: store,
		CrossRef: mockFetcher{
			"10.1000/pollen": `{"status":"ok","message":{"DOI":"10.1000/pollen","title":["<i>Fossil</i> pollen"],"subject":["Ecology"],"language":"en"}}`,
		},
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_CleanDOIs(t *testing.T) {
	handler := mcpCleanDOIs()
	req := makeCallToolRequest("clean_dois", map[string]interface{}{
		"values": []interface{}{"https://doi.org/10.1000/ABC", "doi:10.1000/xyz", "not a doi"},
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var res ident.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(res.Clean) != 2 || len(res.Removed) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestMCPTool_CleanDOIs_MissingValues(t *testing.T) {
	result, _ := mcpCleanDOIs()(context.Background(), makeCallToolRequest("clean_dois", map[string]interface{}{}))
	if !result.IsError {
		t.Fatal("expected error for missing values")
	}
}

func TestMCPTool_CleanORCIDs(t *testing.T) {
	req := makeCallToolRequest("clean_orcids", map[string]interface{}{
		"values": []interface{}{"0000-0002-1825-0097", "orcid"},
	})
	result, err := mcpCleanORCIDs()(context.Background(), req)
	if err != nil || result.IsError {
		t.Fatalf("unexpected failure: %v", err)
	}
	var res ident.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(res.Clean) != 1 || res.Clean[0] != "https://orcid.org/0000-0002-1825-0097" {
		t.Fatalf("clean = %v", res.Clean)
	}
}

func TestMCPTool_LookupDOI(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	req := makeCallToolRequest("lookup_doi", map[string]interface{}{"doi": "https://doi.org/10.1000/pollen"})

	result, err := mcpLookupDOI(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var pub records.Publication
	if err := json.Unmarshal([]byte(toolText(t, result)), &pub); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if pub.Title != "Fossil pollen" || !pub.Valid {
		t.Fatalf("publication = %+v", pub)
	}
}

func TestMCPTool_LookupDOI_NotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	req := makeCallToolRequest("lookup_doi", map[string]interface{}{"doi": "10.1000/missing"})
	result, _ := mcpLookupDOI(deps)(context.Background(), req)
	if !result.IsError || !strings.Contains(toolText(t, result), "no CrossRef record") {
		t.Fatalf("expected not-found error, got %s", toolText(t, result))
	}
}

func TestMCPTool_LookupDOI_NoClient(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.CrossRef = nil
	req := makeCallToolRequest("lookup_doi", map[string]interface{}{"doi": "10.1000/pollen"})
	result, _ := mcpLookupDOI(deps)(context.Background(), req)
	if !result.IsError {
		t.Fatal("expected error without a CrossRef client")
	}
}

func TestMCPTool_Publication(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()
	if err := store.SavePublication(ctx, records.Publication{DOI: "10.1000/stored", Title: "Stored", Valid: true, Date: time.Now()}); err != nil {
		t.Fatal(err)
	}

	result, _ := mcpPublication(deps)(ctx, makeCallToolRequest("publication", map[string]interface{}{"doi": "10.1000/stored"}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"title":"Stored"`) {
		t.Fatalf("unexpected body: %s", toolText(t, result))
	}

	result, _ = mcpPublication(deps)(ctx, makeCallToolRequest("publication", map[string]interface{}{"doi": "10.1000/absent"}))
	if !result.IsError {
		t.Fatal("expected error for unknown DOI")
	}
}

func TestMCPTool_RegisterDOIs(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()
	if err := store.CreateDOI(ctx, "10.1000/old"); err != nil {
		t.Fatal(err)
	}

	req := makeCallToolRequest("register_dois", map[string]interface{}{
		"values": []interface{}{"10.1000/old", "10.1000/new", "junk"},
	})
	result, _ := mcpRegisterDOIs(deps)(ctx, req)
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var out registry.Outcome[string]
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(out.Inserted) != 1 || out.Inserted[0] != "10.1000/new" || len(out.Present) != 1 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestMCPTool_Similar(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()
	for doi, vec := range map[string][]float32{
		"10.1000/a": {1, 0},
		"10.1000/b": {0.8, 0.2},
		"10.1000/c": {0, 1},
	} {
		if err := store.CreateEmbedding(ctx, records.Embedding{DOI: doi, Model: "m", Embeddings: vec, Date: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	deps.Retriever = retrieval.NewRetriever(store, nil, "m")

	req := makeCallToolRequest("similar", map[string]interface{}{"doi": "10.1000/a", "limit": 1})
	result, _ := mcpSimilar(deps)(ctx, req)
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var matches []retrieval.Match
	if err := json.Unmarshal([]byte(toolText(t, result)), &matches); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(matches) != 1 || matches[0].DOI != "10.1000/b" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestMCPTool_Similar_Unavailable(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, _ := mcpSimilar(deps)(context.Background(), makeCallToolRequest("similar", map[string]interface{}{"doi": "10.1000/a"}))
	if !result.IsError {
		t.Fatal("expected error without a retriever")
	}
}

func TestMCPResource_RelevantEmpty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "pubcurate://relevant"}}
	contents, err := mcpResourceRelevant(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.Text != "[]" {
		t.Fatalf("contents = %+v", contents)
	}
}
