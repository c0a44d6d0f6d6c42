package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"repa/metrics"
	"repa/models"
	"repa/utils"
)

// LedgerStore is the slice of the dedup ledger the pipeline needs.
type LedgerStore interface {
	IsSeen(userID uint, url string) (models.AnalysisState, error)
	MarkPending(userID uint, messageID, subject, from, url string) error
	RecordResult(userID uint, url string, result *models.AnalysisResult) error
	TouchLastCheck(userID uint, t time.Time) error
	PendingOrErrored(userID uint) ([]models.ProcessedEmail, error)
}

// Scraper fetches a listing page as markdown or HTML.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*utils.ScrapeResult, error)
}

// Analyst produces image descriptions and the final listing report.
type Analyst interface {
	DescribeImage(ctx context.Context, imageURL string) (string, error)
	GenerateReport(ctx context.Context, criteria *models.MatchCriteria, listingContent, imageNotes string) (string, error)
}

// StatusEvent is pushed to connected clients as an analysis progresses.
type StatusEvent struct {
	TraceID    string `json:"trace_id"`
	ListingURL string `json:"listing_url"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Notifier receives live status events for a user. Implementations must not
// block; the pipeline calls them inline.
type Notifier interface {
	AnalysisUpdate(userID uint, event StatusEvent)
}

// Orchestrator runs the scrape, vision, and report steps for single listing
// URLs, bounded by a concurrency cap, and persists the outcome.
type Orchestrator struct {
	ledger   LedgerStore
	scraper  Scraper
	analyst  Analyst
	notifier Notifier
	logger   *logrus.Logger

	maxImages int
	sem       chan struct{}
	wg        sync.WaitGroup
}

func NewOrchestrator(ledger LedgerStore, scraper Scraper, analyst Analyst, logger *logrus.Logger, maxImages, concurrency int) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		ledger:    ledger,
		scraper:   scraper,
		analyst:   analyst,
		logger:    logger,
		maxImages: maxImages,
		sem:       make(chan struct{}, concurrency),
	}
}

// SetNotifier attaches a live status sink. Optional; nil means no events.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// Dispatch runs Analyze on its own goroutine under the concurrency cap.
func (o *Orchestrator) Dispatch(ctx context.Context, userID uint, url string, criteria *models.MatchCriteria) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-o.sem }()
		o.Analyze(ctx, userID, url, criteria)
	}()
}

// Wait blocks until every dispatched analysis has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Analyze runs one full analysis for a listing URL and records the outcome
// on the ledger. It never panics and never propagates analysis failures;
// they become error results. The returned result mirrors what was stored.
func (o *Orchestrator) Analyze(ctx context.Context, userID uint, url string, criteria *models.MatchCriteria) *models.AnalysisResult {
	traceID := uuid.NewString()
	start := time.Now()
	logger := o.logger.WithFields(logrus.Fields{
		"trace_id": traceID,
		"user_id":  userID,
		"url":      url,
	})
	logger.Info("starting listing analysis")
	o.notify(userID, StatusEvent{TraceID: traceID, ListingURL: url, Status: "analyzing"})

	result := o.runAnalysis(ctx, logger, url, criteria)

	outcome := "success"
	if result.Error != "" {
		outcome = "error"
		logger.WithField("analysis_error", result.Error).Warn("listing analysis failed")
	} else {
		logger.WithField("duration", time.Since(start).String()).Info("listing analysis finished")
	}
	metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	if err := o.ledger.RecordResult(userID, url, result); err != nil {
		logger.WithError(err).Error("failed to persist analysis result")
		sentry.CaptureException(err)
	}

	o.notify(userID, StatusEvent{TraceID: traceID, ListingURL: url, Status: outcome, Error: result.Error})
	return result
}

func (o *Orchestrator) runAnalysis(ctx context.Context, logger *logrus.Entry, url string, criteria *models.MatchCriteria) *models.AnalysisResult {
	scrape, err := o.scraper.Scrape(ctx, url)
	if err != nil {
		return models.ErrorResult(url, fmt.Sprintf("scrape failed: %v", err))
	}

	imageNotes := ImageNotes(ctx, o.analyst, logger, scrape.Content, o.maxImages)

	report, err := o.analyst.GenerateReport(ctx, criteria, scrape.Content, imageNotes)
	if err != nil {
		return models.ErrorResult(url, fmt.Sprintf("report generation failed: %v", err))
	}
	return models.SuccessResult(url, report)
}

// ImageNotes describes the listing photos found in scraped content. A failed
// description does not abort the batch; the failure is noted inline so the
// report model knows the photo existed.
func ImageNotes(ctx context.Context, analyst Analyst, logger *logrus.Entry, content string, maxImages int) string {
	images := ExtractImageURLs(content, maxImages)
	if len(images) == 0 {
		return ""
	}

	var b strings.Builder
	for i, img := range images {
		desc, err := analyst.DescribeImage(ctx, img)
		if err != nil {
			logger.WithError(err).WithField("image_url", img).Warn("image description failed")
			desc = fmt.Sprintf("Analysis failed: %v", err)
		}
		fmt.Fprintf(&b, "### Image %d\nImage URL: %s\n\n%s\n\n---\n", i+1, img, desc)
	}
	return b.String()
}

func (o *Orchestrator) notify(userID uint, event StatusEvent) {
	if o.notifier != nil {
		o.notifier.AnalysisUpdate(userID, event)
	}
}
