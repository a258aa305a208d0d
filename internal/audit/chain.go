package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/verax-io/verax/internal/metrics"
)

// DefaultChainKey names the single chain an organization gets when no
// partitioning is configured.
const DefaultChainKey = "default"

// DefaultMaxAppendRetries bounds how often an append is retried after
// losing the race for a chain's tail.
const DefaultMaxAppendRetries = 5

// Engine assigns linkage to new records and appends them to their chain.
// Concurrent appends to the same chain race on the store's tail check;
// the engine retries with fresh linkage up to maxRetries times before
// surfacing a ConflictError. Appends to different chains never contend.
type Engine struct {
	store      Store
	maxRetries int
	now        func() time.Time
}

// NewEngine creates a chain engine over a store
func NewEngine(store Store, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxAppendRetries
	}
	return &Engine{
		store:      store,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Append links a content-complete record to its chain and persists it.
// It assigns the id if unset, reads the chain tail, sets the next
// sequence number and previous hash, computes the checksum, and hands
// the record to the store. The store commits record and tail atomically,
// so a failed append leaves no half-written state.
func (e *Engine) Append(ctx context.Context, record *Record) (*Record, error) {
	if record.OrganizationID == "" {
		return nil, NewValidationError("organization_id", "organization id is required")
	}
	if record.ChainKey == "" {
		record.ChainKey = DefaultChainKey
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = e.now()
	}
	// microsecond precision survives every backend, including
	// TIMESTAMPTZ columns, so checksums recompute identically after a
	// round trip
	record.OccurredAt = record.OccurredAt.UTC().Truncate(time.Microsecond)

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		tail, err := e.store.Tail(ctx, record.OrganizationID, record.ChainKey)
		if err != nil {
			return nil, err
		}

		if tail == nil {
			record.SequenceNumber = 1
			record.PreviousHash = GenesisHash
		} else {
			record.SequenceNumber = tail.SequenceNumber + 1
			record.PreviousHash = tail.Checksum
		}

		// recordedAt stays monotonic within a chain even when the clock
		// steps backwards
		record.RecordedAt = e.now().UTC().Truncate(time.Microsecond)
		if tail != nil && record.RecordedAt.Before(tail.RecordedAt) {
			record.RecordedAt = tail.RecordedAt
		}

		checksum, err := ComputeChecksum(record)
		if err != nil {
			return nil, err
		}
		record.Checksum = checksum

		err = e.store.Append(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrChainConflict) {
			return nil, err
		}
		metrics.AppendRetriesTotal.Inc()
	}

	return nil, &ConflictError{
		OrganizationID: record.OrganizationID,
		ChainKey:       record.ChainKey,
		Attempts:       e.maxRetries,
	}
}
