package registry

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/pubcurate/pubcurate/internal/ident"
)

// Outcome accumulates the result of registering a batch of items.
// Submitted holds every item; each item also lands in exactly one of
// Inserted, Present or Rejected.
type Outcome[T any] struct {
	Submitted []T `json:"submitted"`
	Inserted  []T `json:"inserted"`
	Present   []T `json:"present"`
	Rejected  []T `json:"rejected"`
}

// ExistsFunc reports whether an item is already registered.
type ExistsFunc[T any] func(ctx context.Context, item T) (bool, error)

// CreateFunc registers an item. It may return ErrAlreadyPresent.
type CreateFunc[T any] func(ctx context.Context, item T) error

// Register checks each item with exists and creates it when absent. A nil
// exists skips the check and relies on create reporting ErrAlreadyPresent.
// Per-item failures, timeouts included, are logged and collected in
// Rejected rather than returned. Once ctx is done the remaining items are
// rejected without being attempted.
func Register[T any](ctx context.Context, items []T, exists ExistsFunc[T], create CreateFunc[T]) Outcome[T] {
	var out Outcome[T]
	for i, item := range items {
		if ctx.Err() != nil {
			out.Submitted = append(out.Submitted, items[i:]...)
			out.Rejected = append(out.Rejected, items[i:]...)
			slog.Warn("registration cancelled", "remaining", len(items)-i, "error", ctx.Err())
			break
		}
		out.Submitted = append(out.Submitted, item)

		if exists != nil {
			ok, err := exists(ctx, item)
			if err != nil {
				logFailure(item, err)
				out.Rejected = append(out.Rejected, item)
				continue
			}
			if ok {
				out.Present = append(out.Present, item)
				continue
			}
		}

		err := create(ctx, item)
		switch {
		case err == nil:
			out.Inserted = append(out.Inserted, item)
		case errors.Is(err, ErrAlreadyPresent):
			out.Present = append(out.Present, item)
		default:
			logFailure(item, err)
			out.Rejected = append(out.Rejected, item)
		}
	}
	return out
}

func logFailure(item any, err error) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		slog.Warn("connection failed", "item", item, "error", err)
		return
	}
	slog.Warn("registration failed", "item", item, "error", err)
}

// RegisterDOIs cleans values and registers every valid DOI.
func RegisterDOIs(ctx context.Context, reg Registry, values []string) Outcome[string] {
	res := ident.CleanDOIs(values)
	if len(res.Clean) == 0 {
		slog.Info("No valid DOIs in the submitted set of values", "submitted", len(values))
		return Outcome[string]{}
	}
	slog.Info("registering DOIs", "submitted", len(values), "valid", len(res.Clean), "removed", len(res.Removed))

	return Register(ctx, res.Clean, nil, func(ctx context.Context, doi string) error {
		return reg.CreateDOI(ctx, doi)
	})
}
