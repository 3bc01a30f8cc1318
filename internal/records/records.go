// Package records defines the entities that move between the metadata
// sources, object storage, the registry API and the local store.
package records

import "time"

// DOI is one row of the DOI table.
type DOI struct {
	DOI  string    `json:"doi"`
	Date time.Time `json:"date"`
}

// Author is a CrossRef contributor.
type Author struct {
	Given    string `json:"given,omitempty"`
	Family   string `json:"family,omitempty"`
	ORCID    string `json:"ORCID,omitempty"`
	Sequence string `json:"sequence,omitempty"`
}

// Publication holds the cleaned bibliographic metadata for one DOI.
type Publication struct {
	DOI            string    `json:"doi"`
	Title          string    `json:"title"`
	Subtitle       string    `json:"subtitle"`
	Authors        []Author  `json:"author"`
	Subjects       []string  `json:"subject"`
	Abstract       string    `json:"abstract"`
	ContainerTitle string    `json:"container-title"`
	Language       string    `json:"language"`
	Published      string    `json:"published"`
	Publisher      string    `json:"publisher"`
	URL            string    `json:"url"`
	Valid          bool      `json:"valid"`
	Date           time.Time `json:"date"`
}

// Embedding is a vector for a DOI under a named model. (DOI, Model) is unique.
type Embedding struct {
	DOI        string    `json:"doi"`
	Embeddings []float32 `json:"embeddings"`
	Date       time.Time `json:"date"`
	Model      string    `json:"model"`
}

// Project is a curated database project that labels papers.
type Project struct {
	Name  string `json:"project"`
	Notes string `json:"notes,omitempty"`
}

// Person is a labeller identified by an ORCID URL.
type Person struct {
	ORCID string `json:"person"`
}

// Label is a category defined within a project.
type Label struct {
	Label   string `json:"label"`
	Project string `json:"project"`
}

// PaperLabel assigns a label to a paper on behalf of a person.
type PaperLabel struct {
	DOI     string    `json:"doi"`
	Label   string    `json:"label"`
	Project string    `json:"project"`
	Person  string    `json:"orcid"`
	Date    time.Time `json:"date,omitzero"`
}

// Annotation is a hand-made relevance judgement from the legacy workflow.
type Annotation struct {
	DOI        string    `json:"doi"`
	Annotation string    `json:"annotation"`
	Annotator  string    `json:"annotator"`
	Date       time.Time `json:"annotationDate"`
	Verified   bool      `json:"verified"`
	VerifiedBy string    `json:"verifiedBy"`
	VerifiedAt time.Time `json:"verifiedDate,omitzero"`
}

// ModelRow is a labelled embedding returned by the model-data endpoint.
type ModelRow struct {
	DOI        string    `json:"doi"`
	Embeddings []float32 `json:"embeddings"`
	Label      string    `json:"label"`
	Project    string    `json:"project"`
}

// Prediction is a classifier decision for one DOI.
type Prediction struct {
	DOI         string    `json:"doi"`
	Probability float64   `json:"predict_proba"`
	Prediction  int       `json:"prediction"`
	Model       string    `json:"model_metadata"`
	Date        time.Time `json:"prediction_date"`
}

// Article is a search hit from the xDD full-text archive.
type Article struct {
	GDDID  string `json:"gddid"`
	DOI    string `json:"doi"`
	URL    string `json:"url"`
	Status string `json:"status"`
}
