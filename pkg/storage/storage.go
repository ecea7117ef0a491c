package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/ucwatch/ucwatch/pkg/types"
)

var (
	// ErrValidationNotFound is returned when no validation record exists
	// for a (document, UC) pair.
	ErrValidationNotFound = errors.New("validation not found")
)

// Database defines the interface for persisting validation records and
// reading stored UC records.
type Database interface {
	// Validation Ledger
	// GetValidation returns the validation record for the pair, or
	// ErrValidationNotFound.
	GetValidation(ctx context.Context, document, uc string) (types.ValidationRecord, error)
	// UpsertValidation creates or replaces the validation record keyed
	// by its normalized (document, UC) pair.
	UpsertValidation(ctx context.Context, record types.ValidationRecord) error
	ListValidations(ctx context.Context) ([]types.ValidationRecord, error)

	// UC Records
	ListUCRecords(ctx context.Context) ([]types.UCRecord, error)
	UpsertUCRecord(ctx context.Context, record types.UCRecord) error

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
