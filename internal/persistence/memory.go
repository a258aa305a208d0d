package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/verax-io/verax/internal/audit"
)

// MemoryStore keeps audit chains in process memory. It backs tests and
// single-node development setups; the tail check in Append gives it the
// same conflict semantics as the durable stores.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]*audit.Record
	byID   map[string]*audit.Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string][]*audit.Record),
		byID:   make(map[string]*audit.Record),
	}
}

// identifiers never contain NUL, so it is safe as a key separator
func chainID(orgID, chainKey string) string {
	return orgID + "\x00" + chainKey
}

func recordKey(orgID, id string) string {
	return orgID + "\x00" + id
}

// Append persists the record if its linkage still matches the chain tail
func (m *MemoryStore) Append(ctx context.Context, record *audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := chainID(record.OrganizationID, record.ChainKey)
	records := m.chains[key]

	var tailSeq uint64
	tailSum := audit.GenesisHash
	if len(records) > 0 {
		tail := records[len(records)-1]
		tailSeq = tail.SequenceNumber
		tailSum = tail.Checksum
	}
	if record.SequenceNumber != tailSeq+1 || record.PreviousHash != tailSum {
		return audit.ErrChainConflict
	}

	idKey := recordKey(record.OrganizationID, record.ID)
	if _, exists := m.byID[idKey]; exists {
		return fmt.Errorf("record id already exists: %s", record.ID)
	}

	stored := cloneRecord(record)
	m.chains[key] = append(records, stored)
	m.byID[idKey] = stored
	return nil
}

// Tail returns the last record of a chain, or nil for an empty chain
func (m *MemoryStore) Tail(ctx context.Context, orgID, chainKey string) (*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.chains[chainID(orgID, chainKey)]
	if len(records) == 0 {
		return nil, nil
	}
	return cloneRecord(records[len(records)-1]), nil
}

// Get returns a record by id within an organization
func (m *MemoryStore) Get(ctx context.Context, orgID, id string) (*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.byID[recordKey(orgID, id)]
	if !ok {
		return nil, &audit.NotFoundError{Type: "record", Key: id}
	}
	return cloneRecord(record), nil
}

// Range streams a chain's records in ascending sequence order. The
// callback runs outside the store lock so it may call back into the
// store.
func (m *MemoryStore) Range(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64, fn func(*audit.Record) error) error {
	m.mu.RLock()
	records := m.chains[chainID(orgID, chainKey)]
	window := make([]*audit.Record, 0, len(records))
	for _, record := range records {
		if record.SequenceNumber < fromSeq {
			continue
		}
		if toSeq > 0 && record.SequenceNumber > toSeq {
			break
		}
		window = append(window, cloneRecord(record))
	}
	m.mu.RUnlock()

	for _, record := range window {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

// Query scans the organization's chains with the shared predicate matcher
func (m *MemoryStore) Query(ctx context.Context, q *audit.Query) (*audit.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := audit.SearchTerms(q.Text)
	prefix := q.OrganizationID + "\x00"

	m.mu.RLock()
	matched := []*audit.Record{}
	for key, records := range m.chains {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, record := range records {
			if audit.MatchesQuery(record, q, terms) {
				matched = append(matched, record)
			}
		}
	}
	m.mu.RUnlock()

	audit.OrderRecords(matched, q)

	total := int64(len(matched))
	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.Limit
	if end > len(matched) {
		end = len(matched)
	}

	page := &audit.Page{
		Records: make([]*audit.Record, 0, end-start),
		Total:   total,
		HasMore: int64(q.Offset+q.Limit) < total,
	}
	for _, record := range matched[start:end] {
		page.Records = append(page.Records, cloneRecord(record))
	}
	return page, nil
}

// Chains lists the organization's chain keys in lexical order
func (m *MemoryStore) Chains(ctx context.Context, orgID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := orgID + "\x00"
	keys := []string{}
	for key, records := range m.chains {
		if len(records) == 0 || !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Organizations lists every organization holding records in lexical order
func (m *MemoryStore) Organizations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	orgs := []string{}
	for key, records := range m.chains {
		if len(records) == 0 {
			continue
		}
		orgID := key[:strings.IndexByte(key, 0)]
		if _, ok := seen[orgID]; ok {
			continue
		}
		seen[orgID] = struct{}{}
		orgs = append(orgs, orgID)
	}
	sort.Strings(orgs)
	return orgs, nil
}

// MarkArchived flips the archived flag on a sequence range and reports
// how many records changed. Nothing else on the records is touched.
func (m *MemoryStore) MarkArchived(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var changed int64
	for _, record := range m.chains[chainID(orgID, chainKey)] {
		if record.SequenceNumber < fromSeq || record.SequenceNumber > toSeq {
			continue
		}
		if !record.Archived {
			record.Archived = true
			changed++
		}
	}
	return changed, nil
}

// Close is a no-op for the in-memory store
func (m *MemoryStore) Close() error {
	return nil
}

// cloneRecord copies a record so stored state and caller state never
// alias each other
func cloneRecord(r *audit.Record) *audit.Record {
	clone := *r
	if r.BeforeState != nil {
		clone.BeforeState = make(map[string]any, len(r.BeforeState))
		for k, v := range r.BeforeState {
			clone.BeforeState[k] = v
		}
	}
	if r.AfterState != nil {
		clone.AfterState = make(map[string]any, len(r.AfterState))
		for k, v := range r.AfterState {
			clone.AfterState[k] = v
		}
	}
	if r.Context != nil {
		clone.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			clone.Context[k] = v
		}
	}
	if r.ComplianceFlags != nil {
		clone.ComplianceFlags = append([]string(nil), r.ComplianceFlags...)
	}
	return &clone
}
