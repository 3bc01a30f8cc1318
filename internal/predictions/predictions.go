// Package predictions persists classifier output, either appended to the
// prediction table in object storage or as timestamped Parquet files in a
// local directory.
package predictions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pubcurate/pubcurate/internal/objstore"
	"github.com/pubcurate/pubcurate/internal/records"
)

const (
	filePrefix = "article-relevance-prediction_"
	fileStamp  = "2006-01-02T15-04-05"

	// EpochDate is reported when no run has been recorded.
	EpochDate = "1800-01-01"
)

// Sink receives a batch of predictions and reports where they went.
type Sink interface {
	Write(ctx context.Context, preds []records.Prediction) (string, error)
}

// S3Sink appends predictions to a Parquet table in object storage.
type S3Sink struct {
	Store    *objstore.Store
	Location objstore.Location
}

func (s S3Sink) Write(ctx context.Context, preds []records.Prediction) (string, error) {
	existing, err := objstore.Pull(ctx, s.Store, s.Location, objstore.PredictionCodec)
	if err != nil && !errors.Is(err, objstore.ErrNotFound) {
		return "", err
	}
	rows := objstore.Dedupe(objstore.PredictionCodec, append(existing, preds...))
	if _, err := objstore.Push(ctx, s.Store, s.Location, objstore.PredictionCodec, rows, objstore.PushOptions{Create: true}); err != nil {
		return "", err
	}
	return s.Location.String(), nil
}

// DirSink writes each batch to a new file named after the run time.
type DirSink struct {
	Dir string
	Now func() time.Time
}

func (d DirSink) Write(_ context.Context, preds []records.Prediction) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating prediction dir: %w", err)
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	data, err := objstore.PredictionCodec.Encode(preds)
	if err != nil {
		return "", err
	}
	path := filepath.Join(d.Dir, FileName(now()))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, f.Close()
}

// FileName is the local file name for a run at t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(fileStamp) + ".parquet"
}

// Summary counts a prediction run.
type Summary struct {
	Processed int    `json:"processed"`
	Valid     int    `json:"valid"`
	Invalid   int    `json:"invalid"`
	Relevant  int    `json:"relevant"`
	Output    string `json:"output"`
}

// Write stores preds through sink. invalid is the number of records that
// were not scored.
func Write(ctx context.Context, sink Sink, preds []records.Prediction, invalid int) (Summary, error) {
	sum := Summary{Processed: len(preds) + invalid, Valid: len(preds), Invalid: invalid}
	for _, p := range preds {
		sum.Relevant += p.Prediction
	}
	out, err := sink.Write(ctx, preds)
	if err != nil {
		return sum, fmt.Errorf("writing predictions: %w", err)
	}
	sum.Output = out
	slog.Info("predictions written", "output", out, "processed", sum.Processed,
		"valid", sum.Valid, "invalid", sum.Invalid, "relevant", sum.Relevant)
	return sum, nil
}

// LatestRunDate returns the most recent run date (YYYY-MM-DD) found among
// prediction files in dir, or EpochDate when there are none.
func LatestRunDate(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return EpochDate, nil
	}
	if err != nil {
		return "", err
	}
	latest := EpochDate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		stamp := strings.TrimPrefix(name, filePrefix)
		if len(stamp) < 10 {
			continue
		}
		day := stamp[:10]
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			continue
		}
		if day > latest {
			latest = day
		}
	}
	return latest, nil
}
