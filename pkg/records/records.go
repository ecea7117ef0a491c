// Package records fetches the latest UC readings from the record
// store. The record store is an external collaborator: it is read-only
// from the engine's perspective and records are replaced wholesale on
// every fetch.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/ucwatch/ucwatch/pkg/storage"
	"github.com/ucwatch/ucwatch/pkg/types"
)

var (
	// ErrAuthExpired is returned when the bearer credential for the
	// record store is missing, invalid, or expired. It is fatal for the
	// fetch cycle and retried only on the next scheduled tick.
	ErrAuthExpired = errors.New("record store credential missing or expired")
)

// Source fetches the current set of UC records for the tenant.
type Source interface {
	FetchRecords(ctx context.Context) ([]types.UCRecord, error)
}

// Configured sets up the record source based on flags. The firestore
// provider reads records previously stored in the database (see
// cmd/seed); the http provider fetches them from an upstream API with a
// bearer credential.
func Configured(db storage.Database) Source {
	provider := lflag.String("records-provider", "http", "Record source to use (available: http, firestore, static)")

	var s struct{ Source }

	h := configuredHTTP()

	lflag.Do(func() {
		switch *provider {
		case "http":
			if err := h.Validate(); err != nil {
				panic(fmt.Sprintf("http record source validation failed: %v", err))
			}
			s.Source = h
		case "firestore":
			s.Source = &databaseSource{db: db}
		case "static":
			s.Source = NewStaticSource(nil)
		default:
			panic(fmt.Sprintf("unknown records provider: %s", *provider))
		}
	})

	return &s
}

// databaseSource serves UC records out of the storage layer.
type databaseSource struct {
	db storage.Database
}

func (d *databaseSource) FetchRecords(ctx context.Context) ([]types.UCRecord, error) {
	records, err := d.db.ListUCRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list uc records: %w", err)
	}
	return records, nil
}
