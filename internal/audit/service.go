package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/metrics"
)

// Options configures the audit service
type Options struct {
	Partition          string
	MaxAppendRetries   int
	SearchDefaultLimit int
	SearchMaxLimit     int
	RetentionFloorDays int
	ReportQueueSize    int
	ReportMaxRecords   int
}

// ChainInfo describes a chain and its current tail
type ChainInfo struct {
	ChainKey       string    `json:"chain_key"`
	TailSequence   uint64    `json:"tail_sequence"`
	TailChecksum   string    `json:"tail_checksum"`
	TailRecordedAt time.Time `json:"tail_recorded_at"`
}

// Service is the audit subsystem facade. It validates caller input,
// scopes every operation to the caller's organization, and dispatches to
// the chain engine, searcher, verifier, archiver and report generator.
type Service struct {
	store     Store
	engine    *Engine
	searcher  *Searcher
	verifier  *Verifier
	archiver  *Archiver
	reports   *ReportGenerator
	partition string
	log       logger.Logger
	now       func() time.Time
}

// NewService assembles the audit service over a store. A nil exporter
// disables cold storage export for archival and reports.
func NewService(store Store, exporter Exporter, opts Options, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetDefault()
	}
	searcher := NewSearcher(store, opts.SearchDefaultLimit, opts.SearchMaxLimit)
	return &Service{
		store:     store,
		engine:    NewEngine(store, opts.MaxAppendRetries),
		searcher:  searcher,
		verifier:  NewVerifier(store),
		archiver:  NewArchiver(store, exporter, opts.RetentionFloorDays, log),
		reports:   NewReportGenerator(searcher, exporter, opts.ReportQueueSize, opts.ReportMaxRecords, log),
		partition: opts.Partition,
		log:       log,
		now:       time.Now,
	}
}

// SystemActor builds the actor context for internally originated
// operations such as scheduled jobs. The empty actor id marks the
// resulting records as system events.
func SystemActor(orgID string) ActorContext {
	return ActorContext{OrganizationID: orgID}
}

// LogEvent appends one audit record for the actor's organization
func (s *Service) LogEvent(ctx context.Context, actor ActorContext, event Event) (*Record, error) {
	start := time.Now()
	record, err := s.logEvent(ctx, actor, event)
	metrics.AppendsTotal.WithLabelValues(appendStatus(err)).Inc()
	metrics.AppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	s.log.WithOrg(record.OrganizationID).Info("Audit event recorded",
		logger.String("record_id", record.ID),
		logger.String("chain_key", record.ChainKey),
		logger.Uint64("sequence_number", record.SequenceNumber),
		logger.String("action", string(record.Action)),
		logger.String("category", string(record.Category)))
	return record, nil
}

func (s *Service) logEvent(ctx context.Context, actor ActorContext, event Event) (*Record, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	chainKey := event.ChainKey
	if chainKey == "" {
		chainKey = s.chainKeyFor(&event)
	}

	occurredAt := event.OccurredAt
	if !occurredAt.IsZero() {
		occurredAt = occurredAt.UTC()
	}

	record := &Record{
		OrganizationID:  actor.OrganizationID,
		ChainKey:        chainKey,
		OccurredAt:      occurredAt,
		Actor:           actor.ActorID,
		Action:          event.Action,
		Category:        event.Category,
		Severity:        event.Severity,
		ResourceType:    event.ResourceType,
		ResourceID:      event.ResourceID,
		ResourceName:    event.ResourceName,
		Description:     event.Description,
		BeforeState:     event.BeforeState,
		AfterState:      event.AfterState,
		Context:         mergeContext(event.Context, actor.contextEntries()),
		ComplianceFlags: normalizeFlags(event.ComplianceFlags),
		RiskScore:       event.RiskScore,
	}

	return s.engine.Append(ctx, record)
}

// chainKeyFor applies the configured chain partitioning strategy
func (s *Service) chainKeyFor(event *Event) string {
	switch s.partition {
	case "category":
		return string(event.Category)
	case "resource_type":
		if event.ResourceType != "" {
			return sanitizeChainKey(event.ResourceType)
		}
		return DefaultChainKey
	default:
		return DefaultChainKey
	}
}

// sanitizeChainKey maps a free-form value onto the identifier alphabet
// chain keys require. Derived keys must stay deterministic, so the same
// resource type always lands on the same chain.
func sanitizeChainKey(value string) string {
	if len(value) > 128 {
		value = value[:128]
	}
	out := []byte(value)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// Search runs a multi-predicate search over the organization's records
func (s *Service) Search(ctx context.Context, orgID string, q *Query) (*Page, error) {
	start := time.Now()
	page, err := s.searcher.Search(ctx, orgID, q)
	metrics.SearchesTotal.WithLabelValues(resultStatus(err)).Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.SearchResultsCount.Observe(float64(len(page.Records)))
	return page, nil
}

// GetRecord returns one record by id within the organization
func (s *Service) GetRecord(ctx context.Context, orgID, recordID string) (*Record, error) {
	if orgID == "" {
		return nil, NewValidationError("organization_id", "organization id is required")
	}
	if recordID == "" {
		return nil, NewValidationError("record_id", "record id is required")
	}

	record, err := s.store.Get(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if record.OrganizationID != orgID {
		return nil, &TenantViolationError{Op: "get_record", RequestedOrg: orgID, ActualOrg: record.OrganizationID}
	}
	return record, nil
}

// Chains lists the organization's chains with their current tails
func (s *Service) Chains(ctx context.Context, orgID string) ([]ChainInfo, error) {
	if orgID == "" {
		return nil, NewValidationError("organization_id", "organization id is required")
	}

	keys, err := s.store.Chains(ctx, orgID)
	if err != nil {
		return nil, err
	}

	infos := []ChainInfo{}
	for _, chainKey := range keys {
		tail, err := s.store.Tail(ctx, orgID, chainKey)
		if err != nil {
			return nil, err
		}
		if tail == nil {
			continue
		}
		infos = append(infos, ChainInfo{
			ChainKey:       chainKey,
			TailSequence:   tail.SequenceNumber,
			TailChecksum:   tail.Checksum,
			TailRecordedAt: tail.RecordedAt,
		})
	}
	return infos, nil
}

// VerifyChain verifies one chain of the actor's organization and logs
// the run as a system admin audit event
func (s *Service) VerifyChain(ctx context.Context, actor ActorContext, chainKey string) (*ChainReport, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := s.verifier.VerifyChain(ctx, actor.OrganizationID, chainKey)
	s.observeVerification(start, err, report)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Integrity verification of chain %s passed (%d records)", report.ChainKey, report.RecordsChecked)
	if !report.IsValid {
		description = fmt.Sprintf("Integrity verification of chain %s FAILED: %d invalid checksums, %d broken links, %d gaps, %d duplicates",
			report.ChainKey, len(report.InvalidChecksums), len(report.BrokenLinks), len(report.SequenceGaps), len(report.DuplicateSequences))
	}
	s.logVerification(ctx, actor, report.IsValid, "audit_chain", report.ChainKey, description)
	return report, nil
}

// VerifyIntegrity verifies every chain of the actor's organization and
// logs the run as a system admin audit event
func (s *Service) VerifyIntegrity(ctx context.Context, actor ActorContext) (*IntegrityReport, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := s.verifier.VerifyOrganization(ctx, actor.OrganizationID)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		metrics.VerificationDuration.Observe(time.Since(start).Seconds())
		return nil, err
	}
	for _, chainReport := range report.Chains {
		s.recordViolations(chainReport)
	}
	metrics.VerificationsTotal.WithLabelValues(validityStatus(report.IsValid)).Inc()
	metrics.VerificationDuration.Observe(time.Since(start).Seconds())
	metrics.VerificationRecordsChecked.Observe(float64(report.RecordsChecked))

	description := fmt.Sprintf("Integrity verification of organization passed (%d chains, %d records)", len(report.Chains), report.RecordsChecked)
	if !report.IsValid {
		invalid := 0
		for _, chainReport := range report.Chains {
			if !chainReport.IsValid {
				invalid++
			}
		}
		description = fmt.Sprintf("Integrity verification of organization FAILED: %d of %d chains invalid", invalid, len(report.Chains))
	}
	s.logVerification(ctx, actor, report.IsValid, "organization", actor.OrganizationID, description)
	return report, nil
}

func (s *Service) observeVerification(start time.Time, err error, report *ChainReport) {
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		metrics.VerificationDuration.Observe(time.Since(start).Seconds())
		return
	}
	s.recordViolations(report)
	metrics.VerificationsTotal.WithLabelValues(validityStatus(report.IsValid)).Inc()
	metrics.VerificationDuration.Observe(time.Since(start).Seconds())
	metrics.VerificationRecordsChecked.Observe(float64(report.RecordsChecked))
}

func (s *Service) recordViolations(report *ChainReport) {
	if n := len(report.InvalidChecksums); n > 0 {
		metrics.IntegrityViolationsTotal.WithLabelValues("checksum_mismatch").Add(float64(n))
	}
	if n := len(report.BrokenLinks); n > 0 {
		metrics.IntegrityViolationsTotal.WithLabelValues("broken_link").Add(float64(n))
	}
	if n := len(report.SequenceGaps); n > 0 {
		metrics.IntegrityViolationsTotal.WithLabelValues("sequence_gap").Add(float64(n))
	}
	if n := len(report.DuplicateSequences); n > 0 {
		metrics.IntegrityViolationsTotal.WithLabelValues("duplicate_sequence").Add(float64(n))
	}
}

// logVerification appends the verification outcome to the audit trail.
// The verification result is already in hand, so a failed append is
// logged and swallowed rather than masking the report.
func (s *Service) logVerification(ctx context.Context, actor ActorContext, passed bool, resourceType, resourceID, description string) {
	severity := SeverityInfo
	riskScore := 10
	if !passed {
		severity = SeverityCritical
		riskScore = 90
	}

	_, err := s.logEvent(ctx, actor, Event{
		Action:       ActionVerify,
		Category:     CategorySystemAdmin,
		Severity:     severity,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Description:  description,
		RiskScore:    riskScore,
	})
	if err != nil {
		s.log.WithOrg(actor.OrganizationID).Error("Failed to record verification event", logger.Error(err))
	}
}

// ArchiveOlderThan archives the organization's records older than the
// given number of days, subject to the retention floor, and logs the run
func (s *Service) ArchiveOlderThan(ctx context.Context, actor ActorContext, days int) (int64, error) {
	if err := actor.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	archived, err := s.archiver.ArchiveOlderThan(ctx, actor.OrganizationID, days)
	metrics.ArchiveRunsTotal.WithLabelValues(resultStatus(err)).Inc()
	metrics.ArchiveRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}

	if archived > 0 {
		_, logErr := s.logEvent(ctx, actor, Event{
			Action:      ActionArchive,
			Category:    CategorySystemAdmin,
			Severity:    SeverityInfo,
			Description: fmt.Sprintf("Archived %d audit records older than %d days", archived, days),
			AfterState: map[string]any{
				"archived_count":  archived,
				"older_than_days": days,
			},
			RiskScore: 20,
		})
		if logErr != nil {
			s.log.WithOrg(actor.OrganizationID).Error("Failed to record archival event", logger.Error(logErr))
		}
	}
	return archived, nil
}

// GenerateComplianceReport queues a report job for the actor's
// organization and returns the report id
func (s *Service) GenerateComplianceReport(ctx context.Context, actor ActorContext, req ReportRequest) (string, error) {
	if err := actor.Validate(); err != nil {
		return "", err
	}
	// the caller's organization always wins over request input
	req.OrganizationID = actor.OrganizationID

	reportID, err := s.reports.Generate(&req)
	if err != nil {
		return "", err
	}

	_, logErr := s.logEvent(ctx, actor, Event{
		Action:       ActionExport,
		Category:     CategoryCompliance,
		Severity:     SeverityInfo,
		ResourceType: "compliance_report",
		ResourceID:   reportID,
		ResourceName: req.Title,
		Description:  fmt.Sprintf("Compliance report %q requested", req.Title),
		RiskScore:    15,
	})
	if logErr != nil {
		s.log.WithOrg(actor.OrganizationID).Error("Failed to record report request event", logger.Error(logErr))
	}
	return reportID, nil
}

// GetReport returns the state of a report job scoped to the organization
func (s *Service) GetReport(orgID, reportID string) (*ComplianceReport, error) {
	if orgID == "" {
		return nil, NewValidationError("organization_id", "organization id is required")
	}
	return s.reports.Get(orgID, reportID)
}

// ListReports returns the organization's report jobs, newest first
func (s *Service) ListReports(orgID string) []*ComplianceReport {
	return s.reports.List(orgID)
}

// Organizations lists every organization holding records
func (s *Service) Organizations(ctx context.Context) ([]string, error) {
	return s.store.Organizations(ctx)
}

// Shutdown stops the background report worker
func (s *Service) Shutdown(ctx context.Context) error {
	return s.reports.Shutdown(ctx)
}

func appendStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsValidation(err):
		return "validation_error"
	case IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}

func resultStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsValidation(err):
		return "validation_error"
	default:
		return "error"
	}
}

func validityStatus(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// mergeContext overlays actor request metadata on caller-supplied
// context entries
func mergeContext(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
