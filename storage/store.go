// Package storage is a small keyed record store. Records are Go structs that
// expose a primary key, serialized as JSON and grouped by model name.
//
// It backs the local token backend for development and single-node
// deployments:
//
//	store := sqlitestore.New("file:tokens.db")
//	backend := localbackend.New(store)
package storage

import (
	"context"

	"github.com/rush86999/atomagent/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a record does not exist.
	ErrNotFound = errors.NewC("record not found", codes.NotFound)

	// Returned when a record conflicts with an existing key.
	ErrAlreadyExists = errors.NewC("primary key already exists", codes.AlreadyExists)

	// Returned when a store can not marshal/unmarshal a model.
	ErrInvalidModel = errors.NewC("invalid model", codes.InvalidArgument)

	// Returned when a store is passed an uninitialized pointer.
	ErrNilModel = errors.NewC("uninitialized pointer passed as model", codes.InvalidArgument)
)

// Store persists models by primary key.
type Store interface {
	// Create inserts models, failing with ErrAlreadyExists on conflict.
	Create(ctx context.Context, models ...Model) error

	// Read populates model with the record stored under id.
	Read(ctx context.Context, id string, model Model) error

	// Upsert inserts or replaces models.
	Upsert(ctx context.Context, models ...Model) error

	// Delete removes a record. Only the primary key needs to be populated.
	// Returns ErrNotFound when nothing was deleted.
	Delete(ctx context.Context, model Model) error

	// Exists returns true if a record with the given id exists.
	Exists(ctx context.Context, id string, model Model) (bool, error)

	// Close releases resources held by the store.
	Close() error
}
