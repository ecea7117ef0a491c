package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/ucwatch/ucwatch/pkg/log"
	"github.com/ucwatch/ucwatch/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	validationsCollection = "validations"
	ucRecordsCollection   = "uc_records"
)

// FirestoreProvider implements the Database interface using Google
// Cloud Firestore. Validation records and UC records are stored as JSON
// blobs keyed by their normalized identifiers.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// GetValidation retrieves the validation record for a (document, UC)
// pair from the "validations" collection.
func (f *FirestoreProvider) GetValidation(ctx context.Context, document, uc string) (types.ValidationRecord, error) {
	key := types.ValidationKey(document, uc)
	doc, err := f.client.Collection(validationsCollection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ValidationRecord{}, fmt.Errorf("%w: %s", ErrValidationNotFound, key)
		}
		return types.ValidationRecord{}, fmt.Errorf("failed to fetch validation doc %s: %w", key, err)
	}

	rec, err := decodeValidationDoc(ctx, doc.Ref.ID, doc)
	if err != nil {
		return types.ValidationRecord{}, err
	}
	return rec, nil
}

// UpsertValidation creates or replaces the validation record. The
// document ID is the normalized document plus UC so formatted tax ID
// variants hit the same row.
func (f *FirestoreProvider) UpsertValidation(ctx context.Context, record types.ValidationRecord) error {
	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal validation: %w", err)
	}

	key := types.ValidationKey(record.DocumentID, record.UC)
	var ts time.Time
	if len(record.History) > 0 {
		ts = record.History[len(record.History)-1].Timestamp
	}
	_, err = f.client.Collection(validationsCollection).Doc(key).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"state":     string(record.State),
		"timestamp": ts,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert validation %s: %w", key, err)
	}
	return nil
}

// ListValidations retrieves all validation records.
func (f *FirestoreProvider) ListValidations(ctx context.Context) ([]types.ValidationRecord, error) {
	iter := f.client.Collection(validationsCollection).Documents(ctx)
	defer iter.Stop()

	var records []types.ValidationRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating validations: %w", err)
		}

		rec, err := decodeValidationDoc(ctx, doc.Ref.ID, doc)
		if err != nil {
			// Skip malformed documents
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed validation doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// UpsertUCRecord adds or updates a stored UC record in the "uc_records"
// collection.
func (f *FirestoreProvider) UpsertUCRecord(ctx context.Context, record types.UCRecord) error {
	if record.UC == "" {
		return fmt.Errorf("uc record missing uc identifier")
	}
	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal uc record: %w", err)
	}

	docID := types.NormalizeDocument(record.DocumentID) + ":" + record.UC
	_, err = f.client.Collection(ucRecordsCollection).Doc(docID).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert uc record %s: %w", docID, err)
	}
	return nil
}

// ListUCRecords retrieves all stored UC records.
func (f *FirestoreProvider) ListUCRecords(ctx context.Context) ([]types.UCRecord, error) {
	iter := f.client.Collection(ucRecordsCollection).Documents(ctx)
	defer iter.Stop()

	var records []types.UCRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating uc records: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "uc record doc missing json", slog.String("docID", doc.Ref.ID))
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "uc record doc json not string", slog.String("docID", doc.Ref.ID))
			continue
		}

		var rec types.UCRecord
		if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal uc record", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeValidationDoc(ctx context.Context, docID string, doc *firestore.DocumentSnapshot) (types.ValidationRecord, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "validation doc missing json", slog.String("docID", docID))
		return types.ValidationRecord{}, fmt.Errorf("validation document %s missing 'json' field: %w", docID, err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "validation doc json not string", slog.String("docID", docID))
		return types.ValidationRecord{}, fmt.Errorf("validation document %s 'json' field is not string", docID)
	}

	var rec types.ValidationRecord
	if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal validation", slog.String("docID", docID), slog.Any("err", err))
		return types.ValidationRecord{}, fmt.Errorf("failed to unmarshal validation (id=%s): %w", docID, err)
	}
	return rec, nil
}
