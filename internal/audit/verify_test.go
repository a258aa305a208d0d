package audit

import (
	"context"
	"testing"
	"time"
)

func TestVerifyChainRequiresOrganization(t *testing.T) {
	verifier := NewVerifier(newFakeStore())
	if _, err := verifier.VerifyChain(context.Background(), "", "default"); !IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if _, err := verifier.VerifyOrganization(context.Background(), ""); !IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestVerifyEmptyChainIsValid(t *testing.T) {
	verifier := NewVerifier(newFakeStore())

	report, err := verifier.VerifyChain(context.Background(), "acme", "")
	if err != nil {
		t.Fatalf("Failed to verify: %v", err)
	}
	if report.ChainKey != DefaultChainKey {
		t.Errorf("Expected the default chain key, got %q", report.ChainKey)
	}
	if !report.IsValid || report.RecordsChecked != 0 {
		t.Errorf("Expected a valid empty chain, got %+v", report)
	}
	if report.InvalidChecksums == nil || report.BrokenLinks == nil {
		t.Error("Expected initialized finding slices")
	}
}

func TestVerifyOrganizationWithoutChains(t *testing.T) {
	verifier := NewVerifier(newFakeStore())
	when := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return when }

	report, err := verifier.VerifyOrganization(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Failed to verify: %v", err)
	}
	if !report.IsValid || len(report.Chains) != 0 || report.RecordsChecked != 0 {
		t.Errorf("Expected an empty valid report, got %+v", report)
	}
	if !report.VerifiedAt.Equal(when) {
		t.Errorf("Expected verified_at %v, got %v", when, report.VerifiedAt)
	}
}
