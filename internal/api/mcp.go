// Package api exposes curation tools to MCP clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pubcurate/pubcurate/internal/crossref"
	"github.com/pubcurate/pubcurate/internal/ident"
	"github.com/pubcurate/pubcurate/internal/preprocess"
	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/registry"
	"github.com/pubcurate/pubcurate/internal/retrieval"
	"github.com/pubcurate/pubcurate/internal/storage"
)

// MCPStore is the slice of the local store the MCP tools read and write.
type MCPStore interface {
	Publication(ctx context.Context, doi string) (records.Publication, error)
	RelevantPublications(ctx context.Context) ([]records.Publication, error)
	CreateDOI(ctx context.Context, doi string) error
}

// MCPFetcher returns raw CrossRef JSON for a DOI.
type MCPFetcher interface {
	Fetch(ctx context.Context, doi string) json.RawMessage
}

// MCPRetriever finds publications similar to a stored one.
type MCPRetriever interface {
	Similar(ctx context.Context, doi string, topK int) ([]retrieval.Match, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     MCPStore
	CrossRef  MCPFetcher   // optional; if nil, lookup_doi returns an error
	Retriever MCPRetriever // optional; if nil, similar returns an error
	Version   string
}

// NewMCPServer creates an MCP server with the curation tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"pubcurate",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pubcurate: DOI and ORCID cleaning, CrossRef lookups and the local publication store."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("clean_dois",
			mcp.WithDescription("Validate and normalize a list of DOIs. Returns the clean DOIs and the removed values."),
			mcp.WithArray("values", mcp.Description("Candidate DOIs, resolver URLs or doi: prefixed strings"), mcp.Required()),
		),
		mcpCleanDOIs(),
	)

	s.AddTool(
		mcp.NewTool("clean_orcids",
			mcp.WithDescription("Validate ORCIDs and normalize them to https://orcid.org/ URLs."),
			mcp.WithArray("values", mcp.Description("Candidate ORCIDs"), mcp.Required()),
		),
		mcpCleanORCIDs(),
	)

	s.AddTool(
		mcp.NewTool("lookup_doi",
			mcp.WithDescription("Fetch CrossRef metadata for a DOI and return the cleaned publication record."),
			mcp.WithString("doi", mcp.Description("The DOI to look up"), mcp.Required()),
		),
		mcpLookupDOI(deps),
	)

	s.AddTool(
		mcp.NewTool("publication",
			mcp.WithDescription("Return the stored publication for a DOI from the local store."),
			mcp.WithString("doi", mcp.Description("The DOI to read"), mcp.Required()),
		),
		mcpPublication(deps),
	)

	s.AddTool(
		mcp.NewTool("register_dois",
			mcp.WithDescription("Clean a list of DOIs and register the valid ones in the local store."),
			mcp.WithArray("values", mcp.Description("Candidate DOIs"), mcp.Required()),
		),
		mcpRegisterDOIs(deps),
	)

	s.AddTool(
		mcp.NewTool("similar",
			mcp.WithDescription("List stored publications whose embeddings are closest to the given DOI."),
			mcp.WithString("doi", mcp.Description("A DOI with a stored embedding"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSimilar(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pubcurate://relevant",
			"Relevant Publications",
			mcp.WithResourceDescription("Publications whose latest prediction marks them relevant"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRelevant(deps),
	)

	return s
}

func mcpCleanDOIs() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		values := req.GetStringSlice("values", nil)
		if len(values) == 0 {
			return mcpError("values is required"), nil
		}
		return mcpJSON(ident.CleanDOIs(values))
	}
}

func mcpCleanORCIDs() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		values := req.GetStringSlice("values", nil)
		if len(values) == 0 {
			return mcpError("values is required"), nil
		}
		return mcpJSON(ident.CleanORCIDs(values))
	}
}

func mcpLookupDOI(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.CrossRef == nil {
			return mcpError("lookup not available: no CrossRef client configured"), nil
		}
		raw, err := req.RequireString("doi")
		if err != nil {
			return mcpError("doi is required"), nil
		}
		doi, ok := ident.NormalizeDOI(raw)
		if !ok {
			return mcpError(fmt.Sprintf("%q is not a valid DOI", raw)), nil
		}

		pub, err := crossref.Parse(deps.CrossRef.Fetch(ctx, doi))
		if errors.Is(err, crossref.ErrNotFound) {
			return mcpError(fmt.Sprintf("no CrossRef record for %s", doi)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		doc, _ := preprocess.Prepare(pub, preprocess.DefaultOptions)
		return mcpJSON(doc.Publication)
	}
}

func mcpPublication(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("doi")
		if err != nil {
			return mcpError("doi is required"), nil
		}
		doi, ok := ident.NormalizeDOI(raw)
		if !ok {
			return mcpError(fmt.Sprintf("%q is not a valid DOI", raw)), nil
		}

		pub, err := deps.Store.Publication(ctx, doi)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("%s is not in the local store", doi)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read publication: %v", err)), nil
		}
		return mcpJSON(pub)
	}
}

func mcpSimilar(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Retriever == nil {
			return mcpError("similarity search not available"), nil
		}
		raw, err := req.RequireString("doi")
		if err != nil {
			return mcpError("doi is required"), nil
		}
		doi, ok := ident.NormalizeDOI(raw)
		if !ok {
			return mcpError(fmt.Sprintf("%q is not a valid DOI", raw)), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		matches, err := deps.Retriever.Similar(ctx, doi, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("similarity search failed: %v", err)), nil
		}
		if matches == nil {
			matches = []retrieval.Match{}
		}
		return mcpJSON(matches)
	}
}

func mcpRegisterDOIs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		values := req.GetStringSlice("values", nil)
		if len(values) == 0 {
			return mcpError("values is required"), nil
		}
		res := ident.CleanDOIs(values)
		out := registry.Register(ctx, res.Clean, nil, deps.Store.CreateDOI)
		return mcpJSON(out)
	}
}

func mcpResourceRelevant(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		pubs, err := deps.Store.RelevantPublications(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list relevant publications: %w", err)
		}
		if pubs == nil {
			pubs = []records.Publication{}
		}

		b, err := json.Marshal(pubs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal publications: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
