// Package registry talks to the curation registry, the system of record for
// DOIs, projects, people, labels and embeddings, and implements the
// check-then-create registration used by every ingestion flow.
package registry

import (
	"context"
	"errors"

	"github.com/pubcurate/pubcurate/internal/records"
)

// ErrAlreadyPresent is returned by a create call when the registry already
// holds the item.
var ErrAlreadyPresent = errors.New("already present")

// Registry is the set of registry operations the curation flows need. The
// REST Client and the local SQLite store both implement it.
type Registry interface {
	CreateDOI(ctx context.Context, doi string) error

	ProjectExists(ctx context.Context, project string) (bool, error)
	CreateProject(ctx context.Context, p records.Project) error

	PersonExists(ctx context.Context, orcid string) (bool, error)
	CreatePerson(ctx context.Context, orcid string) error

	LabelExists(ctx context.Context, label, project string) (bool, error)
	CreateLabel(ctx context.Context, l records.Label) error

	PaperLabelExists(ctx context.Context, pl records.PaperLabel) (bool, error)
	CreatePaperLabel(ctx context.Context, pl records.PaperLabel) error

	// Embedding returns the stored embedding for (doi, model), or nil.
	Embedding(ctx context.Context, doi, model string) (*records.Embedding, error)
	CreateEmbedding(ctx context.Context, e records.Embedding) error

	ModelData(ctx context.Context, model, project string) ([]records.ModelRow, error)
	PublicationsToEmbed(ctx context.Context, model string) ([]records.Publication, error)
}
