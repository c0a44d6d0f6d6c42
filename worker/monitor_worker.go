package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"repa/config"
	"repa/metrics"
	"repa/models"
	"repa/monitor"
)

// CriteriaSource enumerates the criteria rows with monitoring enabled.
type CriteriaSource interface {
	ListMonitoringEnabled() ([]models.MatchCriteria, error)
}

// UserProcessor runs one scan cycle for one user.
type UserProcessor interface {
	ProcessUser(ctx context.Context, criteria *models.MatchCriteria) (int, error)
}

// MonitorWorker drives the periodic mailbox scan loop. One iteration scans
// every enabled mailbox; a failed iteration shortens the sleep to the
// recovery interval so a transient outage is retried sooner.
type MonitorWorker struct {
	source   CriteriaSource
	service  UserProcessor
	logger   *log.Logger
	interval time.Duration
	recovery time.Duration
	maxUsers int
}

func NewMonitorWorker(source CriteriaSource, service UserProcessor, logger *log.Logger) *MonitorWorker {
	return &MonitorWorker{
		source:   source,
		service:  service,
		logger:   logger,
		interval: config.AppConfig.ScanInterval,
		recovery: config.AppConfig.ScanRecoveryInterval,
		maxUsers: config.AppConfig.AnalysisConcurrency,
	}
}

func (mw *MonitorWorker) Start(ctx context.Context) {
	mw.logger.Println("Starting mailbox monitor worker...")

	for {
		wait := mw.interval
		if err := mw.runOnce(ctx); err != nil {
			mw.logger.Printf("Scan iteration failed: %v, retrying in %s", err, mw.recovery)
			metrics.ScanErrors.Inc()
			sentry.CaptureException(err)
			wait = mw.recovery
		}

		select {
		case <-ctx.Done():
			mw.logger.Println("Stopping mailbox monitor worker...")
			return
		case <-time.After(wait):
		}
	}
}

// runOnce scans every monitored mailbox concurrently, bounded by maxUsers.
// Per-user failures are logged and do not fail the iteration; only the
// criteria enumeration itself can.
func (mw *MonitorWorker) runOnce(ctx context.Context) error {
	rows, err := mw.source.ListMonitoringEnabled()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	mw.logger.Printf("Scanning %d monitored mailboxes...", len(rows))

	sem := make(chan struct{}, mw.maxUsers)
	var wg sync.WaitGroup

	for i := range rows {
		criteria := rows[i]
		if missing := monitor.MissingMailboxFields(&criteria); len(missing) > 0 {
			mw.logger.Printf("Skipping user %d: missing %v", criteria.UserID, missing)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := mw.service.ProcessUser(ctx, &criteria); err != nil {
				mw.logger.Printf("Failed to process user %d: %v", criteria.UserID, err)
				metrics.ScanErrors.Inc()
			}
		}()
	}

	wg.Wait()
	return nil
}
