package audit

import (
	"context"
	"time"
)

// SortField selects the ordering of search results
type SortField string

const (
	SortOccurredAt   SortField = "occurred_at"
	SortResourceName SortField = "resource_name"
	SortRelevance    SortField = "relevance"
)

// SortOrder selects ascending or descending ordering
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Query describes a multi-predicate search over one organization's
// records. All predicates are optional and AND-combined. FlagsAny
// matches records carrying at least one of the listed compliance flags,
// FlagsAll only records carrying every listed flag.
type Query struct {
	OrganizationID  string
	ChainKey        string
	Actors          []string
	Actions         []Action
	Categories      []Category
	Severities      []Severity
	ResourceTypes   []string
	ResourceIDs     []string
	OccurredFrom    time.Time
	OccurredTo      time.Time
	FlagsAny        []string
	FlagsAll        []string
	RiskMin         *int
	RiskMax         *int
	Text            string
	IncludeArchived bool
	Offset          int
	Limit           int
	Sort            SortField
	Order           SortOrder
}

// Page is one window of search results
type Page struct {
	Records []*Record `json:"records"`
	Total   int64     `json:"total"`
	HasMore bool      `json:"has_more"`
}

// Store is the append-only persistence contract for audit records.
// Implementations expose no general-purpose update or delete: the only
// permitted mutation is MarkArchived, which flips the archived flag and
// nothing else.
type Store interface {
	// Append atomically persists a fully-formed record and advances the
	// chain tail. It returns ErrChainConflict when the record's sequence
	// number or previous hash no longer matches the current tail, so the
	// chain engine can retry against fresh linkage. A failed append
	// leaves nothing behind.
	Append(ctx context.Context, record *Record) error

	// Tail returns the last record of a chain, or nil when the chain has
	// no records yet.
	Tail(ctx context.Context, orgID, chainKey string) (*Record, error)

	// Get returns a record by id within an organization.
	Get(ctx context.Context, orgID, recordID string) (*Record, error)

	// Range streams a chain's records ordered by ascending sequence
	// number, from fromSeq through toSeq inclusive. A toSeq of zero means
	// through the tail. Iteration stops on the first callback error,
	// which Range returns unchanged.
	Range(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64, fn func(*Record) error) error

	// Query runs a filtered, sorted, paginated search.
	Query(ctx context.Context, q *Query) (*Page, error)

	// Chains lists the chain keys of an organization in lexical order.
	Chains(ctx context.Context, orgID string) ([]string, error)

	// Organizations lists every organization holding records, in lexical
	// order.
	Organizations(ctx context.Context) ([]string, error)

	// MarkArchived flips the archived flag on a contiguous sequence range
	// of a chain and reports how many records changed.
	MarkArchived(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64) (int64, error)

	// Close releases the store's resources.
	Close() error
}

// Exporter seals a contiguous chain range into cold storage. The archival
// path calls it before flipping archived flags, and report generation uses
// it to hand a filtered record set to the rendering collaborator.
type Exporter interface {
	// ExportRange writes the records as one segment and returns its
	// location.
	ExportRange(ctx context.Context, orgID, chainKey string, records []*Record) (string, error)

	// ExportReport writes a report's record set and returns its location.
	ExportReport(ctx context.Context, orgID, reportID string, records []*Record) (string, error)
}
