package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/metrics"
	"github.com/verax-io/verax/internal/validation"
)

// ErrReportQueueFull is returned when the report worker cannot accept
// another job.
var ErrReportQueueFull = errors.New("report queue is full")

// highRiskThreshold is the risk score at and above which a record counts
// as high risk in report summaries.
const highRiskThreshold = 75

// reportJobTimeout bounds a single report generation run.
const reportJobTimeout = 5 * time.Minute

// reportPageSize is how many records the worker pulls per search page.
const reportPageSize = 500

// ReportStatus tracks a compliance report job through its lifecycle
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportRunning   ReportStatus = "running"
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
)

// ReportRequest describes the record set a compliance report covers.
// The query's pagination fields are ignored; the worker pages through
// the full result set itself.
type ReportRequest struct {
	OrganizationID string `json:"organization_id" validate:"required,audit_identifier"`
	Title          string `json:"title" validate:"required,max=256"`
	RequestedBy    string `json:"requested_by,omitempty" validate:"max=256"`
	Query          Query  `json:"-"`
}

// ReportSummary aggregates a report's record set
type ReportSummary struct {
	TotalRecords   int64              `json:"total_records"`
	ByCategory     map[Category]int64 `json:"by_category"`
	BySeverity     map[Severity]int64 `json:"by_severity"`
	HighRiskCount  int64              `json:"high_risk_count"`
	FlaggedCount   int64              `json:"flagged_count"`
	EarliestRecord time.Time          `json:"earliest_record"`
	LatestRecord   time.Time          `json:"latest_record"`
}

// ComplianceReport is the job state surfaced to callers. The core only
// assembles and exports the filtered record set; rendering is left to
// the consumer of the exported location.
type ComplianceReport struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Title          string         `json:"title"`
	Status         ReportStatus   `json:"status"`
	RequestedBy    string         `json:"requested_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	RecordCount    int64          `json:"record_count"`
	Truncated      bool           `json:"truncated,omitempty"`
	Location       string         `json:"location,omitempty"`
	Summary        *ReportSummary `json:"summary,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type reportJob struct {
	id    string
	orgID string
	query Query
}

// ReportGenerator runs compliance report jobs on a single background
// worker fed by a bounded queue. Queued jobs survive until Shutdown,
// which fails anything still waiting instead of running long jobs during
// teardown.
type ReportGenerator struct {
	searcher   *Searcher
	exporter   Exporter
	maxRecords int

	mu      sync.RWMutex
	reports map[string]*ComplianceReport

	jobs     chan *reportJob
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
	log      logger.Logger
}

// NewReportGenerator creates a report generator and starts its worker.
// A nil exporter skips export; reports then carry only the summary.
func NewReportGenerator(searcher *Searcher, exporter Exporter, queueSize, maxRecords int, log logger.Logger) *ReportGenerator {
	if queueSize <= 0 {
		queueSize = 16
	}
	if maxRecords <= 0 {
		maxRecords = 100000
	}
	if log == nil {
		log = logger.GetDefault()
	}

	g := &ReportGenerator{
		searcher:   searcher,
		exporter:   exporter,
		maxRecords: maxRecords,
		reports:    map[string]*ComplianceReport{},
		jobs:       make(chan *reportJob, queueSize),
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
	go g.run()
	return g
}

// Generate queues a report job and returns its id
func (g *ReportGenerator) Generate(req *ReportRequest) (string, error) {
	if err := validation.Struct(req); err != nil {
		return "", NewValidationError("report", err.Error())
	}

	select {
	case <-g.stopped:
		return "", errors.New("report generator is shut down")
	default:
	}

	report := &ComplianceReport{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		Title:          req.Title,
		Status:         ReportPending,
		RequestedBy:    req.RequestedBy,
		CreatedAt:      time.Now().UTC(),
	}

	g.mu.Lock()
	g.reports[report.ID] = report
	g.mu.Unlock()

	job := &reportJob{id: report.ID, orgID: req.OrganizationID, query: req.Query}
	select {
	case g.jobs <- job:
		metrics.ReportQueueDepth.Inc()
		return report.ID, nil
	default:
		g.mu.Lock()
		delete(g.reports, report.ID)
		g.mu.Unlock()
		return "", ErrReportQueueFull
	}
}

// Get returns a snapshot of a report scoped to the organization
func (g *ReportGenerator) Get(orgID, reportID string) (*ComplianceReport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	report, ok := g.reports[reportID]
	if !ok || report.OrganizationID != orgID {
		return nil, &NotFoundError{Type: "report", Key: reportID}
	}

	snapshot := *report
	if report.Summary != nil {
		summary := *report.Summary
		snapshot.Summary = &summary
	}
	return &snapshot, nil
}

// List returns snapshots of the organization's reports, newest first
func (g *ReportGenerator) List(orgID string) []*ComplianceReport {
	g.mu.RLock()
	defer g.mu.RUnlock()

	reports := []*ComplianceReport{}
	for _, report := range g.reports {
		if report.OrganizationID != orgID {
			continue
		}
		snapshot := *report
		if report.Summary != nil {
			summary := *report.Summary
			snapshot.Summary = &summary
		}
		reports = append(reports, &snapshot)
	}
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].CreatedAt.After(reports[j].CreatedAt)
		}
		return reports[i].ID < reports[j].ID
	})
	return reports
}

// Shutdown stops the worker and waits for it to finish
func (g *ReportGenerator) Shutdown(ctx context.Context) error {
	g.stopOnce.Do(func() {
		close(g.stopped)
	})

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *ReportGenerator) run() {
	defer close(g.done)

	for {
		// the stop check runs first so a drain never races queued work
		select {
		case <-g.stopped:
			g.drain()
			return
		default:
		}

		select {
		case job := <-g.jobs:
			metrics.ReportQueueDepth.Dec()
			g.execute(job)
		case <-g.stopped:
			g.drain()
			return
		}
	}
}

// drain fails every job still queued at shutdown
func (g *ReportGenerator) drain() {
	for {
		select {
		case job := <-g.jobs:
			metrics.ReportQueueDepth.Dec()
			g.fail(job.id, "report generator shut down before the job ran")
		default:
			return
		}
	}
}

func (g *ReportGenerator) execute(job *reportJob) {
	start := time.Now()
	g.setRunning(job.id)

	ctx, cancel := context.WithTimeout(context.Background(), reportJobTimeout)
	defer cancel()

	records, truncated, err := g.collect(ctx, job)
	if err != nil {
		metrics.ReportJobsTotal.WithLabelValues("error").Inc()
		g.fail(job.id, err.Error())
		g.log.Error("Compliance report failed",
			logger.String("report_id", job.id),
			logger.String("organization_id", job.orgID),
			logger.Error(err))
		return
	}

	location := ""
	if g.exporter != nil {
		location, err = g.exporter.ExportReport(ctx, job.orgID, job.id, records)
		if err != nil {
			metrics.ReportJobsTotal.WithLabelValues("error").Inc()
			g.fail(job.id, err.Error())
			g.log.Error("Compliance report export failed",
				logger.String("report_id", job.id),
				logger.String("organization_id", job.orgID),
				logger.Error(err))
			return
		}
	}

	g.complete(job.id, records, truncated, location)
	metrics.ReportJobsTotal.WithLabelValues("success").Inc()
	metrics.ReportJobDuration.Observe(time.Since(start).Seconds())

	g.log.Info("Compliance report completed",
		logger.String("report_id", job.id),
		logger.String("organization_id", job.orgID),
		logger.Int("records", len(records)),
		logger.Duration("elapsed", time.Since(start)))
}

// collect pages through the filtered record set oldest-first, stopping
// at the configured record cap
func (g *ReportGenerator) collect(ctx context.Context, job *reportJob) ([]*Record, bool, error) {
	query := job.query
	query.Offset = 0
	query.Limit = reportPageSize
	query.Sort = SortOccurredAt
	query.Order = OrderAsc

	var records []*Record
	for {
		page, err := g.searcher.Search(ctx, job.orgID, &query)
		if err != nil {
			return nil, false, err
		}
		records = append(records, page.Records...)
		if len(records) >= g.maxRecords {
			return records[:g.maxRecords], true, nil
		}
		if !page.HasMore || len(page.Records) == 0 {
			return records, false, nil
		}
		query.Offset += len(page.Records)
	}
}

func (g *ReportGenerator) setRunning(reportID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if report, ok := g.reports[reportID]; ok {
		report.Status = ReportRunning
	}
}

func (g *ReportGenerator) fail(reportID, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if report, ok := g.reports[reportID]; ok {
		report.Status = ReportFailed
		report.Error = message
		report.CompletedAt = time.Now().UTC()
	}
}

func (g *ReportGenerator) complete(reportID string, records []*Record, truncated bool, location string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if report, ok := g.reports[reportID]; ok {
		report.Status = ReportCompleted
		report.RecordCount = int64(len(records))
		report.Truncated = truncated
		report.Location = location
		report.Summary = summarize(records)
		report.CompletedAt = time.Now().UTC()
	}
}

// summarize builds the aggregate view of a report's record set
func summarize(records []*Record) *ReportSummary {
	summary := &ReportSummary{
		TotalRecords: int64(len(records)),
		ByCategory:   map[Category]int64{},
		BySeverity:   map[Severity]int64{},
	}
	for i, r := range records {
		summary.ByCategory[r.Category]++
		summary.BySeverity[r.Severity]++
		if r.RiskScore >= highRiskThreshold {
			summary.HighRiskCount++
		}
		if len(r.ComplianceFlags) > 0 {
			summary.FlaggedCount++
		}
		if i == 0 || r.OccurredAt.Before(summary.EarliestRecord) {
			summary.EarliestRecord = r.OccurredAt
		}
		if i == 0 || r.OccurredAt.After(summary.LatestRecord) {
			summary.LatestRecord = r.OccurredAt
		}
	}
	return summary
}
