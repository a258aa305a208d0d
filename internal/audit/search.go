package audit

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// Searcher validates and runs multi-predicate searches. The caller's
// organization always overrides whatever the query carries, so filter
// input can never widen a search across tenants.
type Searcher struct {
	store        Store
	defaultLimit int
	maxLimit     int
}

// NewSearcher creates a searcher with pagination bounds
func NewSearcher(store Store, defaultLimit, maxLimit int) *Searcher {
	if maxLimit <= 0 || maxLimit > 1000 {
		maxLimit = 1000
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = 50
	}
	return &Searcher{
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Search normalizes the query, pins it to the organization, and runs it
func (s *Searcher) Search(ctx context.Context, orgID string, q *Query) (*Page, error) {
	if orgID == "" {
		return nil, NewValidationError("organization_id", "organization id is required")
	}
	if q == nil {
		q = &Query{}
	}
	q.OrganizationID = orgID

	if err := s.normalize(q); err != nil {
		return nil, err
	}

	page, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, record := range page.Records {
		if record.OrganizationID != orgID {
			return nil, &TenantViolationError{Op: "search", RequestedOrg: orgID, ActualOrg: record.OrganizationID}
		}
	}
	return page, nil
}

// normalize applies defaults and rejects malformed predicates
func (s *Searcher) normalize(q *Query) error {
	if q.Offset < 0 {
		return NewValidationError("offset", "offset must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = s.defaultLimit
	}
	if q.Limit < 1 || q.Limit > s.maxLimit {
		return NewValidationError("limit", "limit must be between 1 and "+strconv.Itoa(s.maxLimit))
	}

	for _, action := range q.Actions {
		if !action.Valid() {
			return NewValidationError("actions", "unknown action: "+string(action))
		}
	}
	for _, category := range q.Categories {
		if !category.Valid() {
			return NewValidationError("categories", "unknown category: "+string(category))
		}
	}
	for _, severity := range q.Severities {
		if !severity.Valid() {
			return NewValidationError("severities", "unknown severity: "+string(severity))
		}
	}

	if q.RiskMin != nil && (*q.RiskMin < 0 || *q.RiskMin > 100) {
		return NewValidationError("risk_min", "risk score must be between 0 and 100")
	}
	if q.RiskMax != nil && (*q.RiskMax < 0 || *q.RiskMax > 100) {
		return NewValidationError("risk_max", "risk score must be between 0 and 100")
	}
	if q.RiskMin != nil && q.RiskMax != nil && *q.RiskMin > *q.RiskMax {
		return NewValidationError("risk_min", "risk range minimum exceeds maximum")
	}

	if !q.OccurredFrom.IsZero() && !q.OccurredTo.IsZero() && q.OccurredFrom.After(q.OccurredTo) {
		return NewValidationError("occurred_from", "time range start is after its end")
	}

	q.Text = strings.TrimSpace(q.Text)

	switch q.Sort {
	case "":
		q.Sort = SortOccurredAt
	case SortOccurredAt, SortResourceName:
	case SortRelevance:
		// relevance without a text predicate has no score to sort by
		if q.Text == "" {
			q.Sort = SortOccurredAt
		}
	default:
		return NewValidationError("sort", "unknown sort field: "+string(q.Sort))
	}

	switch q.Order {
	case "":
		if q.Sort == SortResourceName {
			q.Order = OrderAsc
		} else {
			q.Order = OrderDesc
		}
	case OrderAsc, OrderDesc:
	default:
		return NewValidationError("order", "unknown sort order: "+string(q.Order))
	}

	return nil
}

// SearchTerms tokenizes a free-text predicate into lowercase terms
func SearchTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// MatchesQuery reports whether a record satisfies every predicate of the
// query. terms must be the result of SearchTerms(q.Text). The scanning
// stores share this so predicate semantics cannot drift between backends.
func MatchesQuery(r *Record, q *Query, terms []string) bool {
	if r.OrganizationID != q.OrganizationID {
		return false
	}
	if r.Archived && !q.IncludeArchived {
		return false
	}
	if q.ChainKey != "" && r.ChainKey != q.ChainKey {
		return false
	}
	if len(q.Actors) > 0 && !contains(q.Actors, r.Actor) {
		return false
	}
	if len(q.Actions) > 0 && !contains(q.Actions, r.Action) {
		return false
	}
	if len(q.Categories) > 0 && !contains(q.Categories, r.Category) {
		return false
	}
	if len(q.Severities) > 0 && !contains(q.Severities, r.Severity) {
		return false
	}
	if len(q.ResourceTypes) > 0 && !contains(q.ResourceTypes, r.ResourceType) {
		return false
	}
	if len(q.ResourceIDs) > 0 && !contains(q.ResourceIDs, r.ResourceID) {
		return false
	}
	if !q.OccurredFrom.IsZero() && r.OccurredAt.Before(q.OccurredFrom) {
		return false
	}
	if !q.OccurredTo.IsZero() && r.OccurredAt.After(q.OccurredTo) {
		return false
	}
	if q.RiskMin != nil && r.RiskScore < *q.RiskMin {
		return false
	}
	if q.RiskMax != nil && r.RiskScore > *q.RiskMax {
		return false
	}
	if len(q.FlagsAny) > 0 {
		any := false
		for _, flag := range q.FlagsAny {
			if contains(r.ComplianceFlags, flag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, flag := range q.FlagsAll {
		if !contains(r.ComplianceFlags, flag) {
			return false
		}
	}
	if len(terms) > 0 {
		description := strings.ToLower(r.Description)
		resourceName := strings.ToLower(r.ResourceName)
		for _, term := range terms {
			if !strings.Contains(description, term) && !strings.Contains(resourceName, term) {
				return false
			}
		}
	}
	return true
}

// RelevanceScore scores a record against free-text terms. Resource name
// hits weigh more than description hits.
func RelevanceScore(r *Record, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	description := strings.ToLower(r.Description)
	resourceName := strings.ToLower(r.ResourceName)
	score := 0
	for _, term := range terms {
		if strings.Contains(resourceName, term) {
			score += 2
		}
		if strings.Contains(description, term) {
			score++
		}
	}
	return score
}

// OrderRecords sorts matched records in place according to the query's
// sort field and order, with occurrence time and record id as stable
// tie-breakers.
func OrderRecords(records []*Record, q *Query) {
	desc := q.Order == OrderDesc

	switch q.Sort {
	case SortResourceName:
		sort.SliceStable(records, func(i, j int) bool {
			a := strings.ToLower(records[i].ResourceName)
			b := strings.ToLower(records[j].ResourceName)
			if a != b {
				if desc {
					return a > b
				}
				return a < b
			}
			return occurredLater(records[i], records[j])
		})
	case SortRelevance:
		terms := SearchTerms(q.Text)
		scores := make(map[string]int, len(records))
		for _, r := range records {
			scores[r.ID] = RelevanceScore(r, terms)
		}
		sort.SliceStable(records, func(i, j int) bool {
			if scores[records[i].ID] != scores[records[j].ID] {
				return scores[records[i].ID] > scores[records[j].ID]
			}
			return occurredLater(records[i], records[j])
		})
	default:
		sort.SliceStable(records, func(i, j int) bool {
			if desc {
				return occurredLater(records[i], records[j])
			}
			return occurredLater(records[j], records[i])
		})
	}
}

// occurredLater orders by occurrence time descending with record id as a
// final tie-break
func occurredLater(a, b *Record) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.After(b.OccurredAt)
	}
	return a.ID < b.ID
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
