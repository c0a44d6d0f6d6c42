package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AnalysisState classifies a ProcessedEmail row.
type AnalysisState string

const (
	// AnalysisAbsent means no row exists for the (user, url) pair.
	AnalysisAbsent AnalysisState = "absent"
	// AnalysisPending means the row exists but the result was never written.
	AnalysisPending AnalysisState = "pending"
	// AnalysisError means a previous attempt failed; the row is retryable.
	AnalysisError AnalysisState = "error"
	// AnalysisSuccess means a report was produced; the row is immutable.
	AnalysisSuccess AnalysisState = "success"
)

// AnalysisResult is the outcome of analyzing one listing URL. Exactly one of
// Report or Error is set. Stored as JSONB on ProcessedEmail.
type AnalysisResult struct {
	Report     string     `json:"report,omitempty"`
	Error      string     `json:"error,omitempty"`
	URL        string     `json:"url"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

// SuccessResult builds a terminal success result for a listing URL.
func SuccessResult(url, report string) *AnalysisResult {
	now := time.Now().UTC()
	return &AnalysisResult{Report: report, URL: url, AnalyzedAt: &now}
}

// ErrorResult builds a retryable error result for a listing URL.
func ErrorResult(url, message string) *AnalysisResult {
	return &AnalysisResult{Error: message, URL: url}
}

func (r AnalysisResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *AnalysisResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported type %T for analysis result", value)
		}
		b = []byte(s)
	}
	return json.Unmarshal(b, r)
}

// ProcessedEmail is the dedup ledger: one row per (user, listing URL) pair.
// The message id is stored for traceability only; the (user_id, listing_url)
// key is authoritative for deduplication.
type ProcessedEmail struct {
	gorm.Model
	UserID         uint            `gorm:"not null;uniqueIndex:idx_user_listing" json:"user_id"`
	EmailMessageID string          `gorm:"index" json:"email_message_id"`
	EmailSubject   string          `json:"email_subject"`
	EmailFrom      string          `json:"email_from"`
	ListingURL     string          `gorm:"not null;uniqueIndex:idx_user_listing" json:"listing_url"`
	Result         *AnalysisResult `gorm:"type:jsonb" json:"analysis_result,omitempty"`
	ProcessedAt    time.Time       `gorm:"autoCreateTime" json:"processed_at"`

	// Relations
	User User `json:"-"`
}

// State derives the tagged analysis state from the stored result.
func (p *ProcessedEmail) State() AnalysisState {
	switch {
	case p == nil:
		return AnalysisAbsent
	case p.Result == nil:
		return AnalysisPending
	case p.Result.Error != "":
		return AnalysisError
	default:
		return AnalysisSuccess
	}
}

// CandidateListing is a transient record produced by the mailbox scanner for
// one qualifying email. It is consumed immediately and never persisted.
type CandidateListing struct {
	MessageID  string
	Subject    string
	From       string
	URLs       []string
	ReceivedAt time.Time
}
