package objstore

import (
	"encoding/json"
	"strconv"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"

	"github.com/pubcurate/pubcurate/internal/records"
)

var tsType = arrow.FixedWidthTypes.Timestamp_us

// DOICodec stores the DOI table: exactly the columns doi and date.
var DOICodec = Codec[records.DOI]{
	Schema: arrow.NewSchema([]arrow.Field{
		{Name: "doi", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: tsType, Nullable: true},
	}, nil),
	Required: []string{"doi", "date"},
	Exact:    true,
	Key:      func(r records.DOI) string { return r.DOI },
	encode: func(b *array.RecordBuilder, r records.DOI) {
		b.Field(0).(*array.StringBuilder).Append(r.DOI)
		appendTime(b.Field(1), r.Date)
	},
	decode: func(c columns, i int) records.DOI {
		return records.DOI{DOI: c.str("doi", i), Date: c.time("date", i)}
	},
}

// PublicationCodec stores cleaned CrossRef metadata. Authors are kept as a
// JSON string.
var PublicationCodec = Codec[records.Publication]{
	Schema: arrow.NewSchema([]arrow.Field{
		{Name: "doi", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String},
		{Name: "subtitle", Type: arrow.BinaryTypes.String},
		{Name: "author", Type: arrow.BinaryTypes.String},
		{Name: "subject", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		{Name: "abstract", Type: arrow.BinaryTypes.String},
		{Name: "container-title", Type: arrow.BinaryTypes.String},
		{Name: "language", Type: arrow.BinaryTypes.String},
		{Name: "published", Type: arrow.BinaryTypes.String},
		{Name: "publisher", Type: arrow.BinaryTypes.String},
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "valid", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "date", Type: tsType, Nullable: true},
	}, nil),
	Required: []string{"doi"},
	Key:      func(p records.Publication) string { return p.DOI },
	encode: func(b *array.RecordBuilder, p records.Publication) {
		str := func(i int, s string) { b.Field(i).(*array.StringBuilder).Append(s) }
		authors := "[]"
		if len(p.Authors) > 0 {
			if raw, err := json.Marshal(p.Authors); err == nil {
				authors = string(raw)
			}
		}
		str(0, p.DOI)
		str(1, p.Title)
		str(2, p.Subtitle)
		str(3, authors)
		lb := b.Field(4).(*array.ListBuilder)
		lb.Append(true)
		lb.ValueBuilder().(*array.StringBuilder).AppendValues(p.Subjects, nil)
		str(5, p.Abstract)
		str(6, p.ContainerTitle)
		str(7, p.Language)
		str(8, p.Published)
		str(9, p.Publisher)
		str(10, p.URL)
		b.Field(11).(*array.BooleanBuilder).Append(p.Valid)
		appendTime(b.Field(12), p.Date)
	},
	decode: func(c columns, i int) records.Publication {
		p := records.Publication{
			DOI:            c.str("doi", i),
			Title:          c.str("title", i),
			Subtitle:       c.str("subtitle", i),
			Subjects:       c.strings("subject", i),
			Abstract:       c.str("abstract", i),
			ContainerTitle: c.str("container-title", i),
			Language:       c.str("language", i),
			Published:      c.str("published", i),
			Publisher:      c.str("publisher", i),
			URL:            c.str("url", i),
			Valid:          c.boolean("valid", i),
			Date:           c.time("date", i),
		}
		if a := c.str("author", i); a != "" {
			_ = json.Unmarshal([]byte(a), &p.Authors)
		}
		return p
	},
}

// EmbeddingCodec stores one vector per (doi, model).
var EmbeddingCodec = Codec[records.Embedding]{
	Schema: arrow.NewSchema([]arrow.Field{
		{Name: "doi", Type: arrow.BinaryTypes.String},
		{Name: "embeddings", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
		{Name: "date", Type: tsType, Nullable: true},
		{Name: "model", Type: arrow.BinaryTypes.String},
	}, nil),
	Required: []string{"doi", "embeddings"},
	Key:      func(e records.Embedding) string { return e.DOI + "|" + e.Model },
	encode: func(b *array.RecordBuilder, e records.Embedding) {
		b.Field(0).(*array.StringBuilder).Append(e.DOI)
		lb := b.Field(1).(*array.ListBuilder)
		lb.Append(true)
		lb.ValueBuilder().(*array.Float32Builder).AppendValues(e.Embeddings, nil)
		appendTime(b.Field(2), e.Date)
		b.Field(3).(*array.StringBuilder).Append(e.Model)
	},
	decode: func(c columns, i int) records.Embedding {
		return records.Embedding{
			DOI:        c.str("doi", i),
			Embeddings: c.floats("embeddings", i),
			Date:       c.time("date", i),
			Model:      c.str("model", i),
		}
	},
}

// PaperLabelCodec stores paper labels.
var PaperLabelCodec = Codec[records.PaperLabel]{
	Schema: arrow.NewSchema([]arrow.Field{
		{Name: "doi", Type: arrow.BinaryTypes.String},
		{Name: "label", Type: arrow.BinaryTypes.String},
		{Name: "project", Type: arrow.BinaryTypes.String},
		{Name: "orcid", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: tsType, Nullable: true},
	}, nil),
	Required: []string{"doi", "label"},
	Key: func(l records.PaperLabel) string {
		return l.DOI + "|" + l.Label + "|" + l.Project + "|" + l.Person
	},
	encode: func(b *array.RecordBuilder, l records.PaperLabel) {
		b.Field(0).(*array.StringBuilder).Append(l.DOI)
		b.Field(1).(*array.StringBuilder).Append(l.Label)
		b.Field(2).(*array.StringBuilder).Append(l.Project)
		b.Field(3).(*array.StringBuilder).Append(l.Person)
		appendTime(b.Field(4), l.Date)
	},
	decode: func(c columns, i int) records.PaperLabel {
		return records.PaperLabel{
			DOI:     c.str("doi", i),
			Label:   c.str("label", i),
			Project: c.str("project", i),
			Person:  c.str("orcid", i),
			Date:    c.time("date", i),
		}
	},
}

// AnnotationCodec stores legacy relevance annotations.
var AnnotationCodec = Codec[records.Annotation]{
	Schema: arrow.NewSchema([]arrow.Field{
		{Name: "doi", Type: arrow.BinaryTypes.String},
		{Name: "annotation", Type: arrow.BinaryTypes.String},
		{Name: "annotator", Type: arrow.BinaryTypes.String},
		{Name: "annotationDate", Type: tsType, Nullable: true},
		{Name: "verified", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "verifiedBy", Type: arrow.BinaryTypes.String},
		{Name: "verifiedDate", Type: tsType, Nullable: true},
	}, nil),
	Required: []string{"doi"},
	Key:      func(a records.Annotation) string { return a.DOI },
	encode: func(b *array.RecordBuilder, a records.Annotation) {
		b.Field(0).(*array.StringBuilder).Append(a.DOI)
		b.Field(1).(*array.StringBuilder).Append(a.Annotation)
		b.Field(2).(*array.StringBuilder).Append(a.Annotator)
		appendTime(b.Field(3), a.Date)
		b.Field(4).(*array.BooleanBuilder).Append(a.Verified)
		b.Field(5).(*array.StringBuilder).Append(a.VerifiedBy)
		appendTime(b.Field(6), a.VerifiedAt)
	},
	decode: func(c columns, i int) records.Annotation {
		return records.Annotation{
			DOI:        c.str("doi", i),
			Annotation: c.str("annotation", i),
			Annotator:  c.str("annotator", i),
			Date:       c.time("annotationDate", i),
			Verified:   c.boolean("verified", i),
			VerifiedBy: c.str("verifiedBy", i),
			VerifiedAt: c.time("verifiedDate", i),
		}
	},
}

// PredictionCodec stores classifier output.
var PredictionCodec = Codec[records.Prediction]{
	Schema: arrow.NewSchema([]arrow.Field{
		{Name: "doi", Type: arrow.BinaryTypes.String},
		{Name: "predict_proba", Type: arrow.PrimitiveTypes.Float64},
		{Name: "prediction", Type: arrow.PrimitiveTypes.Int64},
		{Name: "model_metadata", Type: arrow.BinaryTypes.String},
		{Name: "prediction_date", Type: tsType, Nullable: true},
	}, nil),
	Required: []string{"doi", "prediction"},
	Key: func(p records.Prediction) string {
		return p.DOI + "|" + p.Model + "|" + strconv.FormatInt(p.Date.UnixMicro(), 10)
	},
	encode: func(b *array.RecordBuilder, p records.Prediction) {
		b.Field(0).(*array.StringBuilder).Append(p.DOI)
		b.Field(1).(*array.Float64Builder).Append(p.Probability)
		b.Field(2).(*array.Int64Builder).Append(int64(p.Prediction))
		b.Field(3).(*array.StringBuilder).Append(p.Model)
		appendTime(b.Field(4), p.Date)
	},
	decode: func(c columns, i int) records.Prediction {
		return records.Prediction{
			DOI:         c.str("doi", i),
			Probability: c.float("predict_proba", i),
			Prediction:  int(c.integer("prediction", i)),
			Model:       c.str("model_metadata", i),
			Date:        c.time("prediction_date", i),
		}
	},
}
