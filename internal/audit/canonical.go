package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// GenesisHash seeds the previous hash of the first record in every chain.
const GenesisHash = "genesis"

// canonicalRecord fixes the set and order of fields covered by the
// integrity digest. Context stays outside the digest: it is operational
// metadata (IP, user agent, request id), not audited content. RecordedAt
// and Archived stay outside so persistence timing and archival never
// alter a checksum. Verification recomputes digests over exactly this
// set, so the exclusions must not change without a chain migration.
type canonicalRecord struct {
	ID              string         `json:"id"`
	OrganizationID  string         `json:"organizationId"`
	ChainKey        string         `json:"chainKey"`
	SequenceNumber  uint64         `json:"sequenceNumber"`
	OccurredAt      string         `json:"occurredAt"`
	Actor           string         `json:"actor"`
	Action          Action         `json:"action"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	ResourceType    string         `json:"resourceType"`
	ResourceID      string         `json:"resourceId"`
	ResourceName    string         `json:"resourceName"`
	Description     string         `json:"description"`
	BeforeState     map[string]any `json:"beforeState"`
	AfterState      map[string]any `json:"afterState"`
	ComplianceFlags []string       `json:"complianceFlags"`
	RiskScore       int            `json:"riskScore"`
}

// Canonicalize serializes a record's content fields into a stable byte
// sequence. Map keys are emitted in sorted order, compliance flags are
// sorted, and times are formatted as RFC3339Nano in UTC, so two logically
// identical records always produce identical bytes.
func Canonicalize(r *Record) ([]byte, error) {
	var flags []string
	if len(r.ComplianceFlags) > 0 {
		flags = append([]string(nil), r.ComplianceFlags...)
		sort.Strings(flags)
	}

	canonical := canonicalRecord{
		ID:              r.ID,
		OrganizationID:  r.OrganizationID,
		ChainKey:        r.ChainKey,
		SequenceNumber:  r.SequenceNumber,
		OccurredAt:      r.OccurredAt.UTC().Format(time.RFC3339Nano),
		Actor:           r.Actor,
		Action:          r.Action,
		Category:        r.Category,
		Severity:        r.Severity,
		ResourceType:    r.ResourceType,
		ResourceID:      r.ResourceID,
		ResourceName:    r.ResourceName,
		Description:     r.Description,
		BeforeState:     r.BeforeState,
		AfterState:      r.AfterState,
		ComplianceFlags: flags,
		RiskScore:       r.RiskScore,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("canonicalize record %s: %w", r.ID, err)
	}
	return data, nil
}

// ComputeChecksum returns the hex SHA-256 digest of the record's canonical
// content concatenated with its previous hash.
func ComputeChecksum(r *Record) (string, error) {
	canonical, err := Canonicalize(r)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(r.PreviousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
