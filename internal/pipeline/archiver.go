package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/concordmarkets/concord/internal/domain"
)

// archiveLockKey guards archive runs across replicas. Only one instance
// archives at a time; the rest skip the run.
const archiveLockKey = "pipeline:archive"

// AuditArchiver moves audit events older than the retention window to cold
// storage on a cron schedule.
type AuditArchiver struct {
	archiver      domain.Archiver
	locks         domain.LockManager
	retentionDays int
	cronExpr      string
	logger        *slog.Logger
}

// NewAuditArchiver creates an AuditArchiver.
func NewAuditArchiver(archiver domain.Archiver, retentionDays int, cronExpr string, logger *slog.Logger) *AuditArchiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &AuditArchiver{
		archiver:      archiver,
		retentionDays: retentionDays,
		cronExpr:      cronExpr,
		logger:        logger.With(slog.String("component", "audit_archiver")),
	}
}

// WithLock makes archive runs mutually exclusive across replicas through the
// given lock manager.
func (a *AuditArchiver) WithLock(locks domain.LockManager) *AuditArchiver {
	a.locks = locks
	return a
}

// Run executes archive runs on the cron schedule until the context is
// cancelled.
func (a *AuditArchiver) Run(ctx context.Context) error {
	schedule, err := cron.ParseStandard(a.cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: parse archive cron %q: %w", a.cronExpr, err)
	}

	a.logger.InfoContext(ctx, "pipeline: audit archiver started",
		slog.String("cron", a.cronExpr),
		slog.Int("retention_days", a.retentionDays),
	)

	return runOnSchedule(ctx, schedule, a.logger, func(ctx context.Context) {
		if err := a.Archive(ctx); err != nil {
			a.logger.ErrorContext(ctx, "pipeline: archive run failed",
				slog.String("error", err.Error()),
			)
		}
	})
}

// Archive executes a single archive run against the retention cutoff. When a
// lock manager is configured and another replica holds the archive lock, the
// run is skipped without error.
func (a *AuditArchiver) Archive(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, 15*time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "pipeline: archive lock held elsewhere, skipping run")
				return nil
			}
			return fmt.Errorf("pipeline: acquire archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "pipeline: starting archive run",
		slog.Time("cutoff", cutoff),
	)

	archived, err := a.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving events before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "pipeline: archive run complete",
		slog.Int64("events_archived", archived),
	)
	return nil
}
