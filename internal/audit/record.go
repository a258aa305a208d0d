package audit

import (
	"sort"
	"time"

	"github.com/verax-io/verax/internal/validation"
)

// Action describes what an actor did
type Action string

const (
	ActionCreate    Action = "create"
	ActionRead      Action = "read"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionLogin     Action = "login"
	ActionLogout    Action = "logout"
	ActionExport    Action = "export"
	ActionSearch    Action = "search"
	ActionVerify    Action = "verify"
	ActionArchive   Action = "archive"
	ActionGrant     Action = "grant"
	ActionRevoke    Action = "revoke"
	ActionExecute   Action = "execute"
	ActionUpload    Action = "upload"
	ActionDownload  Action = "download"
	ActionConfigure Action = "configure"
)

var validActions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {},
	ActionLogin: {}, ActionLogout: {}, ActionExport: {}, ActionSearch: {},
	ActionVerify: {}, ActionArchive: {}, ActionGrant: {}, ActionRevoke: {},
	ActionExecute: {}, ActionUpload: {}, ActionDownload: {}, ActionConfigure: {},
}

// Valid reports whether the action is a known value
func (a Action) Valid() bool {
	_, ok := validActions[a]
	return ok
}

// Category groups events by the kind of activity they record
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryDataChange     Category = "data_change"
	CategoryConfiguration  Category = "configuration"
	CategorySecurity       Category = "security"
	CategoryCompliance     Category = "compliance"
	CategorySystemAdmin    Category = "system_admin"
)

var validCategories = map[Category]struct{}{
	CategoryAuthentication: {}, CategoryAuthorization: {}, CategoryDataAccess: {},
	CategoryDataChange: {}, CategoryConfiguration: {}, CategorySecurity: {},
	CategoryCompliance: {}, CategorySystemAdmin: {},
}

// Valid reports whether the category is a known value
func (c Category) Valid() bool {
	_, ok := validCategories[c]
	return ok
}

// Severity grades how serious an event is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var validSeverities = map[Severity]struct{}{
	SeverityInfo: {}, SeverityWarning: {}, SeverityError: {}, SeverityCritical: {},
}

// Valid reports whether the severity is a known value
func (s Severity) Valid() bool {
	_, ok := validSeverities[s]
	return ok
}

// Record is one immutable entry in an organization's audit chain.
// Once written no field ever changes except Archived, which the
// archival path flips without touching content or linkage.
type Record struct {
	ID              string            `json:"id"`
	OrganizationID  string            `json:"organization_id"`
	ChainKey        string            `json:"chain_key"`
	SequenceNumber  uint64            `json:"sequence_number"`
	PreviousHash    string            `json:"previous_hash"`
	Checksum        string            `json:"checksum"`
	OccurredAt      time.Time         `json:"occurred_at"`
	RecordedAt      time.Time         `json:"recorded_at"`
	Actor           string            `json:"actor,omitempty"`
	Action          Action            `json:"action"`
	Category        Category          `json:"category"`
	Severity        Severity          `json:"severity"`
	ResourceType    string            `json:"resource_type,omitempty"`
	ResourceID      string            `json:"resource_id,omitempty"`
	ResourceName    string            `json:"resource_name,omitempty"`
	Description     string            `json:"description"`
	BeforeState     map[string]any    `json:"before_state,omitempty"`
	AfterState      map[string]any    `json:"after_state,omitempty"`
	Context         map[string]string `json:"context,omitempty"`
	ComplianceFlags []string          `json:"compliance_flags,omitempty"`
	RiskScore       int               `json:"risk_score"`
	Archived        bool              `json:"archived"`
}

// Event is the caller-supplied content of a record before the chain
// engine assigns linkage
type Event struct {
	ChainKey        string            `json:"chain_key,omitempty" validate:"omitempty,audit_identifier"`
	Action          Action            `json:"action" validate:"required"`
	Category        Category          `json:"category" validate:"required"`
	Severity        Severity          `json:"severity" validate:"required"`
	OccurredAt      time.Time         `json:"occurred_at,omitempty"`
	ResourceType    string            `json:"resource_type,omitempty" validate:"max=128"`
	ResourceID      string            `json:"resource_id,omitempty" validate:"max=256"`
	ResourceName    string            `json:"resource_name,omitempty" validate:"max=512"`
	Description     string            `json:"description" validate:"required,max=2048"`
	BeforeState     map[string]any    `json:"before_state,omitempty"`
	AfterState      map[string]any    `json:"after_state,omitempty"`
	Context         map[string]string `json:"context,omitempty"`
	ComplianceFlags []string          `json:"compliance_flags,omitempty" validate:"max=32,dive,max=64"`
	RiskScore       int               `json:"risk_score" validate:"gte=0,lte=100"`
}

// Validate checks the event's shape and enum values
func (e *Event) Validate() error {
	if err := validation.Struct(e); err != nil {
		return NewValidationError("event", err.Error())
	}
	if !e.Action.Valid() {
		return NewValidationError("action", "unknown action: "+string(e.Action))
	}
	if !e.Category.Valid() {
		return NewValidationError("category", "unknown category: "+string(e.Category))
	}
	if !e.Severity.Valid() {
		return NewValidationError("severity", "unknown severity: "+string(e.Severity))
	}
	return nil
}

// ActorContext carries the already-authenticated actor identity and the
// request metadata that becomes the record's context. An empty ActorID
// marks a system-originated event.
type ActorContext struct {
	ActorID        string `json:"actor_id,omitempty" validate:"max=256"`
	OrganizationID string `json:"organization_id" validate:"required,audit_identifier"`
	IP             string `json:"ip,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	Method         string `json:"method,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// Validate checks the actor context's shape
func (a *ActorContext) Validate() error {
	if err := validation.Struct(a); err != nil {
		return NewValidationError("actor", err.Error())
	}
	return nil
}

// contextEntries returns the request metadata as context map entries
func (a *ActorContext) contextEntries() map[string]string {
	entries := map[string]string{}
	if a.IP != "" {
		entries["ip"] = a.IP
	}
	if a.UserAgent != "" {
		entries["user_agent"] = a.UserAgent
	}
	if a.Endpoint != "" {
		entries["endpoint"] = a.Endpoint
	}
	if a.Method != "" {
		entries["method"] = a.Method
	}
	if a.RequestID != "" {
		entries["request_id"] = a.RequestID
	}
	return entries
}

// normalizeFlags sorts and deduplicates compliance flags, dropping empties
func normalizeFlags(flags []string) []string {
	if len(flags) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	normalized := make([]string, 0, len(flags))
	for _, flag := range flags {
		if flag == "" {
			continue
		}
		if _, ok := seen[flag]; ok {
			continue
		}
		seen[flag] = struct{}{}
		normalized = append(normalized, flag)
	}
	if len(normalized) == 0 {
		return nil
	}
	sort.Strings(normalized)
	return normalized
}
