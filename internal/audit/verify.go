package audit

import (
	"context"
	"time"
)

// ChecksumMismatch locates a record whose stored checksum differs from
// the digest recomputed over its content. Expected carries the recomputed
// value, Actual the stored one.
type ChecksumMismatch struct {
	SequenceNumber uint64 `json:"sequence_number"`
	RecordID       string `json:"record_id"`
	Expected       string `json:"expected"`
	Actual         string `json:"actual"`
}

// BrokenLink locates a record whose previous hash differs from the
// recomputed checksum of its predecessor.
type BrokenLink struct {
	SequenceNumber       uint64 `json:"sequence_number"`
	ExpectedPreviousHash string `json:"expected_previous_hash"`
	ActualPreviousHash   string `json:"actual_previous_hash"`
}

// SequenceGap marks a run of missing sequence numbers
type SequenceGap struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// ChainReport is the verification result for a single chain
type ChainReport struct {
	OrganizationID     string             `json:"organization_id"`
	ChainKey           string             `json:"chain_key"`
	RecordsChecked     int64              `json:"records_checked"`
	IsValid            bool               `json:"is_valid"`
	InvalidChecksums   []ChecksumMismatch `json:"invalid_checksums"`
	BrokenLinks        []BrokenLink       `json:"broken_links"`
	SequenceGaps       []SequenceGap      `json:"sequence_gaps"`
	DuplicateSequences []uint64           `json:"duplicate_sequences"`
}

// IntegrityReport aggregates verification across an organization's chains
type IntegrityReport struct {
	OrganizationID string         `json:"organization_id"`
	VerifiedAt     time.Time      `json:"verified_at"`
	RecordsChecked int64          `json:"records_checked"`
	IsValid        bool           `json:"is_valid"`
	Chains         []*ChainReport `json:"chains"`
}

// Verifier walks chains recomputing digests and reports every mismatch
// with enough context to locate it. Verification is strictly read-only.
type Verifier struct {
	store Store
	now   func() time.Time
}

// NewVerifier creates a verifier over a store
func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store, now: time.Now}
}

// VerifyChain checks one chain in ascending sequence order. Each link is
// judged against the freshly recomputed checksum of the predecessor, not
// its stored value, so altering record k surfaces both a checksum
// mismatch at k and a broken link at k+1. Sequence gaps and duplicates
// are reported separately from digest failures.
func (v *Verifier) VerifyChain(ctx context.Context, orgID, chainKey string) (*ChainReport, error) {
	if orgID == "" {
		return nil, NewValidationError("organization_id", "organization id is required")
	}
	if chainKey == "" {
		chainKey = DefaultChainKey
	}

	report := &ChainReport{
		OrganizationID:     orgID,
		ChainKey:           chainKey,
		InvalidChecksums:   []ChecksumMismatch{},
		BrokenLinks:        []BrokenLink{},
		SequenceGaps:       []SequenceGap{},
		DuplicateSequences: []uint64{},
	}

	expectedPrevious := GenesisHash
	var lastSeq uint64

	err := v.store.Range(ctx, orgID, chainKey, 1, 0, func(r *Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.OrganizationID != orgID {
			return &TenantViolationError{Op: "verify", RequestedOrg: orgID, ActualOrg: r.OrganizationID}
		}

		if report.RecordsChecked == 0 {
			if r.SequenceNumber > 1 {
				report.SequenceGaps = append(report.SequenceGaps, SequenceGap{From: 1, To: r.SequenceNumber - 1})
			}
		} else {
			switch {
			case r.SequenceNumber <= lastSeq:
				report.DuplicateSequences = append(report.DuplicateSequences, r.SequenceNumber)
			case r.SequenceNumber > lastSeq+1:
				report.SequenceGaps = append(report.SequenceGaps, SequenceGap{From: lastSeq + 1, To: r.SequenceNumber - 1})
			}
		}

		recomputed, err := ComputeChecksum(r)
		if err != nil {
			return err
		}
		if recomputed != r.Checksum {
			report.InvalidChecksums = append(report.InvalidChecksums, ChecksumMismatch{
				SequenceNumber: r.SequenceNumber,
				RecordID:       r.ID,
				Expected:       recomputed,
				Actual:         r.Checksum,
			})
		}
		if r.PreviousHash != expectedPrevious {
			report.BrokenLinks = append(report.BrokenLinks, BrokenLink{
				SequenceNumber:       r.SequenceNumber,
				ExpectedPreviousHash: expectedPrevious,
				ActualPreviousHash:   r.PreviousHash,
			})
		}

		expectedPrevious = recomputed
		lastSeq = r.SequenceNumber
		report.RecordsChecked++
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.IsValid = len(report.InvalidChecksums) == 0 &&
		len(report.BrokenLinks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.DuplicateSequences) == 0
	return report, nil
}

// VerifyOrganization checks every chain of an organization
func (v *Verifier) VerifyOrganization(ctx context.Context, orgID string) (*IntegrityReport, error) {
	if orgID == "" {
		return nil, NewValidationError("organization_id", "organization id is required")
	}

	chains, err := v.store.Chains(ctx, orgID)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{
		OrganizationID: orgID,
		VerifiedAt:     v.now().UTC(),
		IsValid:        true,
		Chains:         []*ChainReport{},
	}
	for _, chainKey := range chains {
		chainReport, err := v.VerifyChain(ctx, orgID, chainKey)
		if err != nil {
			return nil, err
		}
		report.Chains = append(report.Chains, chainReport)
		report.RecordsChecked += chainReport.RecordsChecked
		if !chainReport.IsValid {
			report.IsValid = false
		}
	}
	return report, nil
}
