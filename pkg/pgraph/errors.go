package pgraph

import (
	"errors"

	"github.com/kittclouds/kitgraph/internal/store"
)

var (
	// ErrNotFound is returned when an ID names no node or edge.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for a completeness downgrade.
	ErrInvalidTransition = errors.New("invalid completeness transition")
	// ErrStorageIO wraps every failure of the durable tier.
	ErrStorageIO = store.ErrStorageIO
	// ErrSchemaVersionMismatch is returned by Hydrate when the store was
	// written by an incompatible version.
	ErrSchemaVersionMismatch = errors.New("schema version mismatch")
	// ErrNotHydrated is returned before Hydrate when AutoHydrate is off.
	ErrNotHydrated = errors.New("graph not hydrated")
	// ErrNotInitialized is returned before Initialize.
	ErrNotInitialized = errors.New("graph not initialized")
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("graph closed")
	// ErrInvalidInput is returned for malformed IDs, types or levels.
	ErrInvalidInput = errors.New("invalid input")
	// ErrHydrationAborted is returned to hydration waiters when Clear or
	// Close interrupted the load.
	ErrHydrationAborted = errors.New("hydration aborted")
)
