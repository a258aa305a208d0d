package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/metrics"
	"github.com/verax-io/verax/internal/telemetry"
)

const defaultJobTimeout = 10 * time.Minute

// Config holds the schedules for background maintenance jobs
type Config struct {
	ArchiveEnabled   bool
	ArchiveSchedule  string
	ArchiveAfterDays int
	VerifyEnabled    bool
	VerifySchedule   string
	JobTimeout       time.Duration
}

// Scheduler runs periodic archival sweeps and integrity verification
// across every organization the store knows about. Jobs run under the
// system actor, so each sweep leaves its own trail entries.
type Scheduler struct {
	cron    *cron.Cron
	service *audit.Service
	config  Config
	log     logger.Logger
}

// New creates a scheduler around the audit service
func New(service *audit.Service, config Config, log logger.Logger) *Scheduler {
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaultJobTimeout
	}

	return &Scheduler{
		cron:    cron.New(),
		service: service,
		config:  config,
		log:     log,
	}
}

// Start registers the enabled jobs and starts the cron loop
func (s *Scheduler) Start() error {
	if s.config.ArchiveEnabled {
		if _, err := s.cron.AddFunc(s.config.ArchiveSchedule, s.runArchive); err != nil {
			return fmt.Errorf("invalid archive schedule %q: %w", s.config.ArchiveSchedule, err)
		}
		s.log.Info("Archival sweep scheduled",
			logger.String("schedule", s.config.ArchiveSchedule),
			logger.Int("older_than_days", s.config.ArchiveAfterDays),
		)
	}

	if s.config.VerifyEnabled {
		if _, err := s.cron.AddFunc(s.config.VerifySchedule, s.runVerify); err != nil {
			return fmt.Errorf("invalid verify schedule %q: %w", s.config.VerifySchedule, err)
		}
		s.log.Info("Integrity sweep scheduled",
			logger.String("schedule", s.config.VerifySchedule),
		)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish or the
// context to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	ctx, span := telemetry.GetTracer("verax.scheduler").Start(ctx, "scheduler.archive")
	defer span.End()

	orgs, err := s.service.Organizations(ctx)
	if err != nil {
		s.log.Error("Archival sweep could not list organizations", logger.Error(err))
		metrics.ScheduledRunsTotal.WithLabelValues("archive", "error").Inc()
		return
	}

	var archived int64
	failed := false
	for _, org := range orgs {
		count, err := s.service.ArchiveOlderThan(ctx, audit.SystemActor(org), s.config.ArchiveAfterDays)
		if err != nil {
			s.log.Error("Archival sweep failed for organization",
				logger.String("org_id", org),
				logger.Error(err),
			)
			failed = true
			continue
		}
		archived += count
	}

	status := "success"
	if failed {
		status = "error"
	}
	metrics.ScheduledRunsTotal.WithLabelValues("archive", status).Inc()
	span.SetAttributes(
		attribute.Int("verax.organizations", len(orgs)),
		attribute.Int64("verax.archived_records", archived),
		attribute.String("verax.status", status),
	)

	s.log.Info("Archival sweep finished",
		logger.Int("organizations", len(orgs)),
		logger.Int64("archived_records", archived),
		logger.String("status", status),
	)
}

func (s *Scheduler) runVerify() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	ctx, span := telemetry.GetTracer("verax.scheduler").Start(ctx, "scheduler.verify")
	defer span.End()

	orgs, err := s.service.Organizations(ctx)
	if err != nil {
		s.log.Error("Integrity sweep could not list organizations", logger.Error(err))
		metrics.ScheduledRunsTotal.WithLabelValues("verify", "error").Inc()
		return
	}

	failed := false
	invalid := 0
	for _, org := range orgs {
		report, err := s.service.VerifyIntegrity(ctx, audit.SystemActor(org))
		if err != nil {
			s.log.Error("Integrity sweep failed for organization",
				logger.String("org_id", org),
				logger.Error(err),
			)
			failed = true
			continue
		}
		if !report.IsValid {
			invalid++
			s.log.Error("Integrity sweep found violations",
				logger.String("org_id", org),
				logger.Int64("records_checked", report.RecordsChecked),
				logger.Int("chains", len(report.Chains)),
			)
		}
	}

	status := "success"
	if failed {
		status = "error"
	} else if invalid > 0 {
		status = "violations"
	}
	metrics.ScheduledRunsTotal.WithLabelValues("verify", status).Inc()
	span.SetAttributes(
		attribute.Int("verax.organizations", len(orgs)),
		attribute.Int("verax.invalid_organizations", invalid),
		attribute.String("verax.status", status),
	)

	s.log.Info("Integrity sweep finished",
		logger.Int("organizations", len(orgs)),
		logger.Int("invalid_organizations", invalid),
		logger.String("status", status),
	)
}
