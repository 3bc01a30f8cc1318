// Package preprocess turns raw publication metadata into the text used for
// embeddings and decides whether a record is usable for prediction.
package preprocess

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/net/html"

	"github.com/pubcurate/pubcurate/internal/records"
)

// Sep separates title, subtitle and abstract in the joined text.
const Sep = "[SEP]"

// Options tunes validity rules.
type Options struct {
	// RequireSubject marks records without CrossRef subjects invalid.
	RequireSubject bool
}

// DefaultOptions matches the production pipeline.
var DefaultOptions = Options{RequireSubject: true}

// Document is a publication prepared for embedding.
type Document struct {
	records.Publication
	Text string `json:"text"`
}

// Stats summarizes a batch.
type Stats struct {
	Total         int `json:"total"`
	Imputed       int `json:"imputed"`
	CannotImpute  int `json:"cannot_impute"`
	NonEnglish    int `json:"non_english"`
	NoSubject     int `json:"no_subject"`
	ValidForModel int `json:"valid"`
}

// Prepare cleans one publication.
func Prepare(p records.Publication, opts Options) (Document, bool) {
	p.Abstract = StripMarkup(p.Abstract)
	p.Title = StripMarkup(p.Title)
	p.Subtitle = StripMarkup(p.Subtitle)

	text := strings.ToLower(p.Title) + Sep + strings.ToLower(p.Subtitle) + Sep + strings.ToLower(p.Abstract)

	imputed := false
	if p.Language == "" && imputable(text) {
		p.Language = DetectLanguage(strings.ReplaceAll(text, Sep, " "))
		imputed = true
	}

	if p.Language != "en" {
		p.Valid = false
	}
	if opts.RequireSubject && len(p.Subjects) == 0 {
		p.Valid = false
	}
	return Document{Publication: p, Text: text}, imputed
}

// PrepareAll cleans pubs and logs a summary.
func PrepareAll(pubs []records.Publication, opts Options) ([]Document, Stats) {
	docs := make([]Document, 0, len(pubs))
	st := Stats{Total: len(pubs)}
	for _, p := range pubs {
		missing := p.Language == ""
		d, imputed := Prepare(p, opts)
		switch {
		case imputed:
			st.Imputed++
		case missing:
			st.CannotImpute++
		}
		if d.Language != "en" {
			st.NonEnglish++
		}
		if len(d.Subjects) == 0 {
			st.NoSubject++
		}
		if d.Valid {
			st.ValidForModel++
		}
		docs = append(docs, d)
	}
	slog.Info("preprocessing completed",
		"total", st.Total, "imputed", st.Imputed, "cannot_impute", st.CannotImpute,
		"non_english", st.NonEnglish, "valid", st.ValidForModel)
	return docs, st
}

// imputable requires at least five characters of real text, one of them a
// letter, before attempting detection.
func imputable(text string) bool {
	bare := strings.ReplaceAll(text, Sep, "")
	if len([]rune(bare)) < 5 {
		return false
	}
	return strings.IndexFunc(bare, unicode.IsLetter) >= 0
}

// DetectLanguage returns the ISO 639-1 code of text, or "error" when no
// language can be determined.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "error"
	}
	return code
}

// StripMarkup removes JATS and HTML tags, keeping their text content.
// Block-level tags become spaces so adjacent sections do not run together.
func StripMarkup(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if isBlock(string(name)) {
				b.WriteByte(' ')
			}
		}
	}
}

func isBlock(tag string) bool {
	tag = strings.TrimPrefix(tag, "jats:")
	switch tag {
	case "p", "sec", "title", "list", "list-item", "br", "div", "related-article", "inline-graphic":
		return true
	}
	return false
}
