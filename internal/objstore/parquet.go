package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
)

// ErrMalformedTable is returned when a stored table lacks the expected
// columns.
var ErrMalformedTable = errors.New("malformed table")

// Codec maps rows of T to and from an Arrow schema.
type Codec[T any] struct {
	Schema *arrow.Schema
	// Required columns must be present when decoding. With Exact set the
	// stored column set must equal the schema's.
	Required []string
	Exact    bool
	// Key identifies a row for de-duplication and diffs.
	Key    func(T) string
	encode func(b *array.RecordBuilder, row T)
	decode func(c columns, i int) T
}

// Encode writes rows as a Snappy-compressed Parquet file.
func (c Codec[T]) Encode(rows []T) ([]byte, error) {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, c.Schema)
	defer b.Release()

	for _, row := range rows {
		c.encode(b, row)
	}
	rec := b.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(c.Schema, []arrow.Record{rec})
	defer tbl.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	if err := pqarrow.WriteTable(tbl, &buf, max(1, int64(len(rows))), props, pqarrow.DefaultWriterProps()); err != nil {
		return nil, fmt.Errorf("writing parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads rows from a Parquet file. Columns the codec does not know are
// ignored unless Exact is set.
func (c Codec[T]) Decode(ctx context.Context, data []byte) ([]T, error) {
	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("reading parquet: %w", err)
	}
	defer tbl.Release()

	if err := c.checkColumns(tbl.Schema()); err != nil {
		return nil, err
	}

	tr := array.NewTableReader(tbl, 4096)
	defer tr.Release()

	var rows []T
	for tr.Next() {
		rec := tr.Record()
		cols := make(columns, rec.NumCols())
		for i, f := range rec.Schema().Fields() {
			cols[f.Name] = rec.Column(i)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			rows = append(rows, c.decode(cols, i))
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("iterating parquet records: %w", err)
	}
	return rows, nil
}

func (c Codec[T]) checkColumns(s *arrow.Schema) error {
	have := make(map[string]bool)
	var names []string
	for _, f := range s.Fields() {
		// pandas may persist its index as an extra column.
		if strings.HasPrefix(f.Name, "__index_level_") {
			continue
		}
		have[f.Name] = true
		names = append(names, f.Name)
	}
	for _, r := range c.Required {
		if !have[r] {
			return fmt.Errorf("%w: missing column %q", ErrMalformedTable, r)
		}
	}
	if c.Exact {
		want := make([]string, 0, c.Schema.NumFields())
		for _, f := range c.Schema.Fields() {
			want = append(want, f.Name)
		}
		sort.Strings(want)
		sort.Strings(names)
		if strings.Join(want, ",") != strings.Join(names, ",") {
			return fmt.Errorf("%w: columns are %v, want %v", ErrMalformedTable, names, want)
		}
	}
	return nil
}

// columns indexes a record's arrays by column name.
type columns map[string]arrow.Array

func (c columns) valid(name string, i int) (arrow.Array, bool) {
	a, ok := c[name]
	if !ok || a.IsNull(i) {
		return nil, false
	}
	return a, true
}

func (c columns) str(name string, i int) string {
	a, ok := c.valid(name, i)
	if !ok {
		return ""
	}
	switch a := a.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return string(a.Value(i))
	default:
		return a.ValueStr(i)
	}
}

func (c columns) time(name string, i int) time.Time {
	a, ok := c.valid(name, i)
	if !ok {
		return time.Time{}
	}
	switch a := a.(type) {
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	case *array.String:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02"} {
			if t, err := time.Parse(layout, a.Value(i)); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func (c columns) boolean(name string, i int) bool {
	a, ok := c.valid(name, i)
	if !ok {
		return false
	}
	switch a := a.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i) != 0
	case *array.Int32:
		return a.Value(i) != 0
	}
	return false
}

func (c columns) float(name string, i int) float64 {
	a, ok := c.valid(name, i)
	if !ok {
		return 0
	}
	switch a := a.(type) {
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Int64:
		return float64(a.Value(i))
	}
	return 0
}

func (c columns) integer(name string, i int) int64 {
	a, ok := c.valid(name, i)
	if !ok {
		return 0
	}
	switch a := a.(type) {
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Float64:
		return int64(a.Value(i))
	}
	return 0
}

func (c columns) floats(name string, i int) []float32 {
	a, ok := c.valid(name, i)
	if !ok {
		return nil
	}
	l, ok := a.(*array.List)
	if !ok {
		return nil
	}
	start, end := l.ValueOffsets(i)
	out := make([]float32, 0, end-start)
	switch v := l.ListValues().(type) {
	case *array.Float32:
		for j := start; j < end; j++ {
			out = append(out, v.Value(int(j)))
		}
	case *array.Float64:
		for j := start; j < end; j++ {
			out = append(out, float32(v.Value(int(j))))
		}
	}
	return out
}

func (c columns) strings(name string, i int) []string {
	a, ok := c.valid(name, i)
	if !ok {
		return nil
	}
	l, ok := a.(*array.List)
	if !ok {
		return nil
	}
	start, end := l.ValueOffsets(i)
	v, ok := l.ListValues().(*array.String)
	if !ok {
		return nil
	}
	out := make([]string, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, v.Value(int(j)))
	}
	return out
}

func appendTime(b array.Builder, t time.Time) {
	tb := b.(*array.TimestampBuilder)
	if t.IsZero() {
		tb.AppendNull()
		return
	}
	tb.Append(arrow.Timestamp(t.UTC().UnixMicro()))
}
