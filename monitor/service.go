package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"repa/models"
	"repa/utils"
)

// MailboxScanner abstracts the IMAP scanner for the service layer.
type MailboxScanner interface {
	Scan(cfg MailboxConfig) ([]models.CandidateListing, error)
}

// Service ties one scan cycle together: read the mailbox, dedup the
// extracted URLs against the ledger, and hand fresh ones to the
// orchestrator.
type Service struct {
	ledger  LedgerStore
	scanner MailboxScanner
	orch    *Orchestrator
	logger  *logrus.Logger
}

func NewService(ledger LedgerStore, scanner MailboxScanner, orch *Orchestrator, logger *logrus.Logger) *Service {
	return &Service{ledger: ledger, scanner: scanner, orch: orch, logger: logger}
}

// MissingMailboxFields lists the human-readable names of monitoring fields
// the user has not filled in yet. Empty means the mailbox is scannable.
func MissingMailboxFields(criteria *models.MatchCriteria) []string {
	var missing []string
	if criteria.MonitorEmail == "" {
		missing = append(missing, "Email Address to Monitor")
	}
	if criteria.EmailAppPassword == "" {
		missing = append(missing, "App Password")
	}
	return missing
}

// ProcessUser runs one scan cycle for one user's criteria. Fresh listing
// URLs are marked pending and dispatched for concurrent analysis; the
// last-check timestamp is stamped once per cycle, after dispatch. Returns
// the number of dispatched analyses.
func (s *Service) ProcessUser(ctx context.Context, criteria *models.MatchCriteria) (int, error) {
	cfg, err := s.mailboxConfig(criteria)
	if err != nil {
		return 0, err
	}

	listings, err := s.scanner.Scan(cfg)
	if err != nil {
		return 0, fmt.Errorf("mailbox scan for user %d: %w", criteria.UserID, err)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"user_id": criteria.UserID,
		"mailbox": cfg.Address,
	})

	dispatched := 0
	for _, listing := range listings {
		for _, url := range listing.URLs {
			state, err := s.ledger.IsSeen(criteria.UserID, url)
			if err != nil {
				logger.WithError(err).WithField("url", url).Error("ledger lookup failed, skipping url")
				continue
			}
			if state == models.AnalysisSuccess {
				logger.WithField("url", url).Debug("listing already analyzed, skipping")
				continue
			}
			if state == models.AnalysisAbsent {
				if err := s.ledger.MarkPending(criteria.UserID, listing.MessageID, listing.Subject, listing.From, url); err != nil {
					logger.WithError(err).WithField("url", url).Error("failed to mark listing pending, skipping url")
					continue
				}
			}
			s.orch.Dispatch(ctx, criteria.UserID, url, criteria)
			dispatched++
		}
	}

	if err := s.ledger.TouchLastCheck(criteria.UserID, time.Now().UTC()); err != nil {
		logger.WithError(err).Error("failed to stamp last email check")
	}

	if dispatched > 0 {
		logger.WithField("dispatched", dispatched).Info("scan cycle dispatched analyses")
	}
	return dispatched, nil
}

// RetryUnfinished re-dispatches every pending or errored ledger row for the
// user. Returns the number of re-dispatched analyses.
func (s *Service) RetryUnfinished(ctx context.Context, criteria *models.MatchCriteria) (int, error) {
	rows, err := s.ledger.PendingOrErrored(criteria.UserID)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		s.orch.Dispatch(ctx, criteria.UserID, row.ListingURL, criteria)
	}
	return len(rows), nil
}

// Wait blocks until every analysis dispatched through this service is done.
func (s *Service) Wait() {
	s.orch.Wait()
}

func (s *Service) mailboxConfig(criteria *models.MatchCriteria) (MailboxConfig, error) {
	if missing := MissingMailboxFields(criteria); len(missing) > 0 {
		return MailboxConfig{}, fmt.Errorf("monitoring not configured for user %d: missing %v", criteria.UserID, missing)
	}

	password, err := utils.Decrypt(criteria.EmailAppPassword)
	if err != nil {
		return MailboxConfig{}, fmt.Errorf("failed to decrypt app password for user %d: %w", criteria.UserID, err)
	}

	return MailboxConfig{
		Address:         criteria.MonitorEmail,
		Password:        password,
		Provider:        criteria.EmailProvider,
		SenderFilters:   criteria.SenderFilters(),
		SubjectKeywords: criteria.SubjectFilters(),
	}, nil
}
