package monitor

import (
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"repa/metrics"
	"repa/models"
)

// providerHosts maps the configured email provider to its IMAP endpoint.
// Unknown providers fall back to Gmail.
var providerHosts = map[string]string{
	models.ProviderGmail:   "imap.gmail.com:993",
	models.ProviderOutlook: "outlook.office365.com:993",
	models.ProviderYahoo:   "imap.mail.yahoo.com:993",
	models.ProviderICloud:  "imap.mail.me.com:993",
}

// HostForProvider returns the IMAP host:port for a provider name.
func HostForProvider(provider string) string {
	if host, ok := providerHosts[strings.ToLower(provider)]; ok {
		return host
	}
	return providerHosts[models.ProviderGmail]
}

// MailboxConfig carries everything needed to scan one user's inbox.
type MailboxConfig struct {
	Address         string
	Password        string
	Provider        string
	SenderFilters   []string
	SubjectKeywords []string
}

// MailboxConnError marks connection or authentication failures, so callers
// can distinguish a bad app password from a transient fetch problem.
type MailboxConnError struct {
	Host string
	Err  error
}

func (e *MailboxConnError) Error() string {
	return fmt.Sprintf("mailbox connection to %s failed: %v", e.Host, e.Err)
}

func (e *MailboxConnError) Unwrap() error { return e.Err }

// Scanner reads unseen messages over IMAP and turns matching ones into
// candidate listings.
type Scanner struct {
	domains []string
	logger  *logrus.Logger
}

func NewScanner(domains []string, logger *logrus.Logger) *Scanner {
	return &Scanner{domains: domains, logger: logger}
}

// Scan connects to the configured mailbox, fetches unseen messages, applies
// the sender and subject filters, and extracts listing URLs from the bodies.
// A broken individual message is logged and skipped; only connection-level
// problems return an error.
func (s *Scanner) Scan(cfg MailboxConfig) ([]models.CandidateListing, error) {
	host := HostForProvider(cfg.Provider)
	serverName := strings.Split(host, ":")[0]

	imapClient, err := client.DialTLS(host, &tls.Config{
		InsecureSkipVerify: false,
		ServerName:         serverName,
	})
	if err != nil {
		return nil, &MailboxConnError{Host: host, Err: err}
	}
	defer imapClient.Logout()

	if err := imapClient.Login(cfg.Address, cfg.Password); err != nil {
		return nil, &MailboxConnError{Host: host, Err: fmt.Errorf("login as %s: %w", cfg.Address, err)}
	}

	if _, err := imapClient.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var listings []models.CandidateListing
	for msg := range messages {
		metrics.EmailsScanned.Inc()

		candidate, ok, err := s.processMessage(msg, cfg)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"mailbox": cfg.Address,
				"seq":     msg.SeqNum,
			}).WithError(err).Warn("skipping unreadable message")
			continue
		}
		if !ok {
			continue
		}
		metrics.CandidateListings.Inc()
		listings = append(listings, candidate)
	}

	if err := <-done; err != nil {
		return listings, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Flag everything we fetched as seen so the next unseen search does not
	// return the same messages again. The ledger keeps dedup correct either
	// way, so a failed store is only worth a warning.
	if err := markProcessed(imapClient, ids); err != nil {
		s.logger.WithField("mailbox", cfg.Address).WithError(err).Warn("failed to mark fetched messages seen")
	}

	return listings, nil
}

// flagStorer is the slice of the IMAP client used to update message flags.
type flagStorer interface {
	Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
}

func markProcessed(c flagStorer, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

// processMessage parses one fetched message and decides whether it is a
// listing notification. ok is false when the message does not pass the
// filters or carries no listing URLs.
func (s *Scanner) processMessage(msg *imap.Message, cfg MailboxConfig) (models.CandidateListing, bool, error) {
	var candidate models.CandidateListing

	section := imap.BodySectionName{}
	literal := msg.GetBody(&section)
	if literal == nil {
		return candidate, false, fmt.Errorf("message body not found")
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return candidate, false, fmt.Errorf("failed to create message reader: %w", err)
	}

	// Prefer the decoded RFC 5322 headers over the ENVELOPE response; the
	// mail reader handles encoded-word subjects and odd charsets.
	subject := msg.Envelope.Subject
	if decoded, err := mr.Header.Subject(); err == nil && decoded != "" {
		subject = decoded
	}
	from := formatAddresses(msg.Envelope.From)
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].Address
	}
	messageID := msg.Envelope.MessageId
	if messageID == "" {
		messageID = fmt.Sprintf("seq-%d", msg.SeqNum)
	}

	if !MatchesFilters(from, subject, cfg.SenderFilters, cfg.SubjectKeywords) {
		return candidate, false, nil
	}

	var bodyText, bodyHTML string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return candidate, false, fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return candidate, false, fmt.Errorf("failed to read body: %w", err)
			}

			if strings.Contains(contentType, "text/html") {
				bodyHTML = string(b)
			} else if strings.Contains(contentType, "text/plain") {
				bodyText = string(b)
			}
		case *mail.AttachmentHeader:
			// Listing notifications carry their content inline; attachments
			// are irrelevant here.
			_ = h
		}
	}

	body := bodyText
	if body == "" {
		body = bodyHTML
	}

	urls := ExtractURLs(body, s.domains)
	if bodyHTML != "" && bodyHTML != body {
		for _, u := range ExtractURLs(bodyHTML, s.domains) {
			urls = appendUnique(urls, u)
		}
	}
	if len(urls) == 0 {
		s.logger.WithFields(logrus.Fields{
			"mailbox": cfg.Address,
			"subject": subject,
		}).Debug("matching email carries no listing URLs")
		return candidate, false, nil
	}

	candidate = models.CandidateListing{
		MessageID:  messageID,
		Subject:    subject,
		From:       from,
		URLs:       urls,
		ReceivedAt: msg.Envelope.Date,
	}
	return candidate, true, nil
}

// MatchesFilters reports whether a message passes the per-user sender and
// subject filters. A filter list is a set of lowercase substrings combined
// with OR; an empty sender list admits every sender.
func MatchesFilters(from, subject string, senderFilters, subjectKeywords []string) bool {
	if len(senderFilters) > 0 && !containsAny(strings.ToLower(from), senderFilters) {
		return false
	}
	if len(subjectKeywords) > 0 && !containsAny(strings.ToLower(subject), subjectKeywords) {
		return false
	}
	return true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func appendUnique(urls []string, u string) []string {
	for _, existing := range urls {
		if existing == u {
			return urls
		}
	}
	return append(urls, u)
}

func formatAddresses(addrs []*imap.Address) string {
	var result []string
	for _, addr := range addrs {
		result = append(result, fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName))
	}
	return strings.Join(result, ", ")
}
