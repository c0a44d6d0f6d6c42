package controller

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"repa/models"
	"repa/monitor"
	"repa/utils"
)

// checkService is the slice of monitor.Service the handlers drive.
type checkService interface {
	ProcessUser(ctx context.Context, criteria *models.MatchCriteria) (int, error)
	RetryUnfinished(ctx context.Context, criteria *models.MatchCriteria) (int, error)
}

// analysisStore is the slice of monitor.Ledger the handlers read from.
type analysisStore interface {
	CriteriaFor(userID uint) (*models.MatchCriteria, error)
	ListRecent(userID uint, limit int) ([]models.ProcessedEmail, error)
}

// MonitorController exposes the on-demand side of the monitoring pipeline:
// triggering a check outside the periodic schedule and listing past results.
type MonitorController struct {
	service checkService
	store   analysisStore
	logger  *logrus.Logger
}

func NewMonitorController(service checkService, store analysisStore, logger *logrus.Logger) *MonitorController {
	return &MonitorController{service: service, store: store, logger: logger}
}

// CheckEmail triggers a mailbox scan for the authenticated user right away.
// Unfinished past analyses are re-dispatched first; the scan itself runs in
// the background so the request returns as soon as it is started.
func (mc *MonitorController) CheckEmail(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	criteria, err := mc.store.CriteriaFor(userID)
	if err != nil {
		if errors.Is(err, monitor.ErrNoCriteria) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No criteria saved yet")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load criteria")
	}

	if !criteria.MonitoringEnabled {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Email monitoring is not enabled")
	}

	if missing := monitor.MissingMailboxFields(criteria); len(missing) > 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
	}

	// The dispatched analyses outlive the request. fiber recycles the request
	// context after the handler returns, so both the retry and the scan get a
	// detached one.
	retried, err := mc.service.RetryUnfinished(context.Background(), criteria)
	if err != nil {
		mc.logger.WithError(err).WithField("user_id", userID).Error("failed to re-dispatch unfinished analyses")
	}

	go func(criteria models.MatchCriteria) {
		if _, err := mc.service.ProcessUser(context.Background(), &criteria); err != nil {
			mc.logger.WithError(err).WithField("user_id", criteria.UserID).Error("manual mailbox check failed")
		}
	}(*criteria)

	return c.JSON(fiber.Map{
		"message": "Mailbox check started",
		"retried": retried,
	})
}

// GetAnalyses lists the user's analyzed listings, bucketed into completed
// reports and still pending or errored ones.
func (mc *MonitorController) GetAnalyses(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	limit := 50
	if n := utils.ParseUint(c.Query("limit")); n > 0 && n <= 200 {
		limit = int(n)
	}

	rows, err := mc.store.ListRecent(userID, limit)
	if err != nil {
		mc.logger.WithError(err).WithField("user_id", userID).Error("failed to list analyses")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list analyses")
	}

	completed := make([]fiber.Map, 0)
	pending := make([]fiber.Map, 0)
	for i := range rows {
		row := &rows[i]
		entry := fiber.Map{
			"listing_url":  row.ListingURL,
			"subject":      row.EmailSubject,
			"processed_at": row.ProcessedAt,
		}
		switch row.State() {
		case models.AnalysisSuccess:
			entry["report"] = row.Result.Report
			entry["analyzed_at"] = row.Result.AnalyzedAt
			completed = append(completed, entry)
		case models.AnalysisError:
			entry["status"] = "error"
			entry["error"] = row.Result.Error
			pending = append(pending, entry)
		default:
			entry["status"] = "pending"
			pending = append(pending, entry)
		}
	}

	return c.JSON(fiber.Map{
		"completed": completed,
		"pending":   pending,
		"total":     len(rows),
	})
}
