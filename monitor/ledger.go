package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"repa/models"
)

// Ledger is the dedup record of processed listing URLs, backed by the
// processed_emails table. The (user_id, listing_url) unique index is the
// source of truth; everything here works in terms of that pair.
type Ledger struct {
	db     *gorm.DB
	logger *logrus.Logger
	strict bool
}

// NewLedger wraps db. With strict set, a result write that matches no row
// even after a retry is returned as an error instead of only being logged.
func NewLedger(db *gorm.DB, logger *logrus.Logger, strict bool) *Ledger {
	return &Ledger{db: db, logger: logger, strict: strict}
}

// ErrNoCriteria is returned when a user has not saved a criteria row yet.
var ErrNoCriteria = errors.New("no criteria saved")

// CriteriaFor loads one user's criteria row.
func (l *Ledger) CriteriaFor(userID uint) (*models.MatchCriteria, error) {
	var criteria models.MatchCriteria
	err := l.db.Where("user_id = ?", userID).First(&criteria).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCriteria
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", err)
	}
	return &criteria, nil
}

// IsSeen reports the analysis state recorded for a user/URL pair.
// AnalysisAbsent means the pair has never been marked.
func (l *Ledger) IsSeen(userID uint, url string) (models.AnalysisState, error) {
	var rec models.ProcessedEmail
	err := l.db.Where("user_id = ? AND listing_url = ?", userID, url).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AnalysisAbsent, nil
	}
	if err != nil {
		return models.AnalysisAbsent, fmt.Errorf("failed to look up ledger row: %w", err)
	}
	return rec.State(), nil
}

// MarkPending inserts the ledger row for a user/URL pair with no result yet.
// Idempotent: an existing row, whatever its state, is left untouched.
func (l *Ledger) MarkPending(userID uint, messageID, subject, from, url string) error {
	var rec models.ProcessedEmail
	err := l.db.Where("user_id = ? AND listing_url = ?", userID, url).
		Attrs(models.ProcessedEmail{
			UserID:         userID,
			ListingURL:     url,
			EmailMessageID: messageID,
			EmailSubject:   subject,
			EmailFrom:      from,
		}).
		FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to mark listing pending: %w", err)
	}
	return nil
}

// RecordResult stores the analysis outcome on an existing ledger row. A
// write that matches no row is retried once; if the retry also matches
// nothing the miss is logged, or returned as an error in strict mode.
func (l *Ledger) RecordResult(userID uint, url string, result *models.AnalysisResult) error {
	update := func() (int64, error) {
		res := l.db.Model(&models.ProcessedEmail{}).
			Where("user_id = ? AND listing_url = ?", userID, url).
			Update("result", result)
		return res.RowsAffected, res.Error
	}

	rows, err := update()
	if err != nil {
		return fmt.Errorf("failed to record analysis result: %w", err)
	}
	if rows > 0 {
		return nil
	}

	l.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"url":     url,
	}).Warn("result write matched no ledger row, retrying once")

	rows, err = update()
	if err != nil {
		return fmt.Errorf("failed to record analysis result on retry: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if l.strict {
		return fmt.Errorf("no ledger row for user %d and url %s", userID, url)
	}
	l.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"url":     url,
	}).Error("result write matched no ledger row after retry, result dropped")
	return nil
}

// TouchLastCheck stamps the user's criteria row with the scan time.
func (l *Ledger) TouchLastCheck(userID uint, t time.Time) error {
	err := l.db.Model(&models.MatchCriteria{}).
		Where("user_id = ?", userID).
		Update("last_email_check", t).Error
	if err != nil {
		return fmt.Errorf("failed to update last email check: %w", err)
	}
	return nil
}

// PendingOrErrored returns the user's ledger rows still awaiting a
// successful analysis, oldest first.
func (l *Ledger) PendingOrErrored(userID uint) ([]models.ProcessedEmail, error) {
	var rows []models.ProcessedEmail
	err := l.db.Where("user_id = ? AND (result IS NULL OR result->>'error' <> '')", userID).
		Order("processed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished analyses: %w", err)
	}
	return rows, nil
}

// ListRecent returns the user's most recent ledger rows, newest first.
func (l *Ledger) ListRecent(userID uint, limit int) ([]models.ProcessedEmail, error) {
	var rows []models.ProcessedEmail
	err := l.db.Where("user_id = ?", userID).
		Order("processed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return rows, nil
}

// ListMonitoringEnabled returns every criteria row with monitoring switched
// on. Used by the background worker to enumerate mailboxes to scan.
func (l *Ledger) ListMonitoringEnabled() ([]models.MatchCriteria, error) {
	var rows []models.MatchCriteria
	err := l.db.Where("monitoring_enabled = ?", true).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list monitored criteria: %w", err)
	}
	return rows, nil
}
