package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/metrics"
)

// DefaultRetentionFloorDays is the minimum age a record must reach before
// archival may touch it.
const DefaultRetentionFloorDays = 90

// errStopScan ends a range walk early without signalling failure
var errStopScan = errors.New("stop scan")

// Archiver marks aged records archived without touching content or
// linkage, so archived ranges stay chain-verifiable. Each chain is
// archived strictly oldest-first: the walk stops at the first record
// still inside the window, even when later records would qualify, so the
// archived region is always a contiguous prefix. When an exporter is
// configured the range is sealed into cold storage before any flag
// flips, and an export failure leaves the chain untouched.
type Archiver struct {
	store     Store
	exporter  Exporter
	floorDays int
	now       func() time.Time
	log       logger.Logger
}

// NewArchiver creates an archiver. A nil exporter disables cold storage
// export.
func NewArchiver(store Store, exporter Exporter, floorDays int, log logger.Logger) *Archiver {
	if floorDays < 0 {
		floorDays = DefaultRetentionFloorDays
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Archiver{
		store:     store,
		exporter:  exporter,
		floorDays: floorDays,
		now:       time.Now,
		log:       log,
	}
}

// ArchiveOlderThan archives every record of the organization older than
// the given number of days and reports how many records changed. A
// period below the retention floor is refused as a policy violation.
func (a *Archiver) ArchiveOlderThan(ctx context.Context, orgID string, days int) (int64, error) {
	if orgID == "" {
		return 0, NewValidationError("organization_id", "organization id is required")
	}
	if days < a.floorDays {
		return 0, NewValidationError("days", fmt.Sprintf("retention period %d days is below the configured floor of %d days", days, a.floorDays))
	}

	cutoff := a.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	chains, err := a.store.Chains(ctx, orgID)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, chainKey := range chains {
		archived, err := a.archiveChain(ctx, orgID, chainKey, cutoff)
		if err != nil {
			return total, err
		}
		total += archived
	}
	return total, nil
}

// archiveChain archives the eligible contiguous prefix of one chain
func (a *Archiver) archiveChain(ctx context.Context, orgID, chainKey string, cutoff time.Time) (int64, error) {
	var eligible []*Record

	err := a.store.Range(ctx, orgID, chainKey, 1, 0, func(r *Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Archived {
			// the already-archived prefix is skipped; anything archived
			// beyond collected records would break contiguity
			if len(eligible) > 0 {
				return errStopScan
			}
			return nil
		}
		if !r.OccurredAt.Before(cutoff) {
			return errStopScan
		}
		eligible = append(eligible, r)
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return 0, err
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	fromSeq := eligible[0].SequenceNumber
	toSeq := eligible[len(eligible)-1].SequenceNumber

	location := ""
	if a.exporter != nil {
		location, err = a.exporter.ExportRange(ctx, orgID, chainKey, eligible)
		if err != nil {
			return 0, fmt.Errorf("export archive segment %s/%s [%d-%d]: %w", orgID, chainKey, fromSeq, toSeq, err)
		}
	}

	archived, err := a.store.MarkArchived(ctx, orgID, chainKey, fromSeq, toSeq)
	if err != nil {
		return 0, err
	}
	metrics.ArchivedRecordsTotal.Add(float64(archived))

	a.log.Info("Archived chain range",
		logger.String("organization_id", orgID),
		logger.String("chain_key", chainKey),
		logger.Uint64("from_sequence", fromSeq),
		logger.Uint64("to_sequence", toSeq),
		logger.Int64("records", archived),
		logger.String("location", location))

	return archived, nil
}
