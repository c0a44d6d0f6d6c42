package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"repa/config"
	"repa/models"
	"repa/utils"
)

type fakeScanner struct {
	listings []models.CandidateListing
	err      error
	calls    int
	gotCfg   MailboxConfig
}

func (f *fakeScanner) Scan(cfg MailboxConfig) ([]models.CandidateListing, error) {
	f.calls++
	f.gotCfg = cfg
	return f.listings, f.err
}

func testCriteria(t *testing.T) *models.MatchCriteria {
	t.Helper()
	config.AppConfig = config.Config{EncryptionKey: "0123456789abcdef0123456789abcdef"}
	encrypted, err := utils.Encrypt("app-password")
	if err != nil {
		t.Fatalf("failed to encrypt test password: %v", err)
	}
	return &models.MatchCriteria{
		UserID:            1,
		MonitorEmail:      "me@gmail.com",
		EmailProvider:     "gmail",
		EmailAppPassword:  encrypted,
		MonitoringEnabled: true,
	}
}

func testService(ledger *fakeLedger, scanner *fakeScanner) *Service {
	scraper := &fakeScraper{
		scrapeFn: func(ctx context.Context, url string) (*utils.ScrapeResult, error) {
			return &utils.ScrapeResult{Content: "flat"}, nil
		},
	}
	orch := NewOrchestrator(ledger, scraper, &fakeAnalyst{}, testLogger(), 3, 2)
	return NewService(ledger, scanner, orch, testLogger())
}

func TestServiceProcessUserDispatchesFreshOnly(t *testing.T) {
	urlA := "https://www.homegate.ch/rent/4000123"
	urlB := "https://flatfox.ch/flat/456"

	ledger := newFakeLedger()
	// urlA was already analyzed successfully in an earlier cycle
	ledger.MarkPending(1, "old", "old", "old", urlA)
	ledger.RecordResult(1, urlA, models.SuccessResult(urlA, "## Report"))

	scanner := &fakeScanner{
		listings: []models.CandidateListing{
			{
				MessageID:  "<msg-1@homegate.ch>",
				Subject:    "New match for your search",
				From:       "alerts@homegate.ch",
				URLs:       []string{urlA, urlB},
				ReceivedAt: time.Now(),
			},
		},
	}

	service := testService(ledger, scanner)
	dispatched, err := service.ProcessUser(context.Background(), testCriteria(t))
	if err != nil {
		t.Fatalf("ProcessUser() error = %v", err)
	}
	service.Wait()

	if dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", dispatched)
	}
	if got := ledger.state(1, urlB); got != models.AnalysisSuccess {
		t.Errorf("fresh url state = %v, want success", got)
	}
	if got := ledger.result(1, urlA).Report; got != "## Report" {
		t.Errorf("already analyzed url was overwritten, report = %q", got)
	}
	if ledger.touches != 1 {
		t.Errorf("last-check stamped %d times, want 1", ledger.touches)
	}
}

func TestServiceProcessUserPassesDecryptedConfig(t *testing.T) {
	ledger := newFakeLedger()
	scanner := &fakeScanner{}

	service := testService(ledger, scanner)
	if _, err := service.ProcessUser(context.Background(), testCriteria(t)); err != nil {
		t.Fatalf("ProcessUser() error = %v", err)
	}

	if scanner.gotCfg.Password != "app-password" {
		t.Errorf("scanner password = %q, want decrypted plaintext", scanner.gotCfg.Password)
	}
	if scanner.gotCfg.Address != "me@gmail.com" {
		t.Errorf("scanner address = %q", scanner.gotCfg.Address)
	}
	want := []string{models.DefaultSubjectKeyword}
	if len(scanner.gotCfg.SubjectKeywords) != 1 || scanner.gotCfg.SubjectKeywords[0] != want[0] {
		t.Errorf("subject keywords = %v, want %v", scanner.gotCfg.SubjectKeywords, want)
	}
}

func TestServiceProcessUserRedispatchesErrored(t *testing.T) {
	url := "https://flatfox.ch/flat/789"

	ledger := newFakeLedger()
	ledger.MarkPending(1, "old", "old", "old", url)
	ledger.RecordResult(1, url, models.ErrorResult(url, "scrape failed: timeout"))
	marksBefore := ledger.markCalls

	scanner := &fakeScanner{
		listings: []models.CandidateListing{
			{MessageID: "<m>", Subject: "match", From: "a@b.c", URLs: []string{url}},
		},
	}

	service := testService(ledger, scanner)
	dispatched, err := service.ProcessUser(context.Background(), testCriteria(t))
	if err != nil {
		t.Fatalf("ProcessUser() error = %v", err)
	}
	service.Wait()

	if dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", dispatched)
	}
	if ledger.markCalls != marksBefore {
		t.Errorf("MarkPending called for an existing errored row")
	}
	if got := ledger.state(1, url); got != models.AnalysisSuccess {
		t.Errorf("errored url state after retry = %v, want success", got)
	}
}

func TestServiceProcessUserScanError(t *testing.T) {
	ledger := newFakeLedger()
	scanner := &fakeScanner{err: errors.New("login failed")}

	service := testService(ledger, scanner)
	if _, err := service.ProcessUser(context.Background(), testCriteria(t)); err == nil {
		t.Fatal("ProcessUser() = nil error, want scan failure")
	}
	if ledger.touches != 0 {
		t.Errorf("last-check stamped on a failed scan")
	}
}

func TestServiceProcessUserMissingFields(t *testing.T) {
	ledger := newFakeLedger()
	scanner := &fakeScanner{}

	criteria := testCriteria(t)
	criteria.EmailAppPassword = ""

	service := testService(ledger, scanner)
	if _, err := service.ProcessUser(context.Background(), criteria); err == nil {
		t.Fatal("ProcessUser() = nil error, want missing-field failure")
	}
	if scanner.calls != 0 {
		t.Errorf("scanner was called despite missing mailbox fields")
	}
}

func TestServiceRetryUnfinished(t *testing.T) {
	pending := "https://flatfox.ch/flat/1"
	errored := "https://flatfox.ch/flat/2"
	done := "https://flatfox.ch/flat/3"

	ledger := newFakeLedger()
	ledger.MarkPending(1, "m", "s", "f", pending)
	ledger.MarkPending(1, "m", "s", "f", errored)
	ledger.RecordResult(1, errored, models.ErrorResult(errored, "report generation failed: 500"))
	ledger.MarkPending(1, "m", "s", "f", done)
	ledger.RecordResult(1, done, models.SuccessResult(done, "## Report"))

	service := testService(ledger, &fakeScanner{})
	count, err := service.RetryUnfinished(context.Background(), testCriteria(t))
	if err != nil {
		t.Fatalf("RetryUnfinished() error = %v", err)
	}
	service.Wait()

	if count != 2 {
		t.Errorf("RetryUnfinished() = %d, want 2", count)
	}
	for _, u := range []string{pending, errored} {
		if got := ledger.state(1, u); got != models.AnalysisSuccess {
			t.Errorf("state for %s = %v, want success after retry", u, got)
		}
	}
}

func TestMissingMailboxFields(t *testing.T) {
	tests := []struct {
		name     string
		criteria models.MatchCriteria
		want     int
	}{
		{"all set", models.MatchCriteria{MonitorEmail: "a@b.c", EmailAppPassword: "x"}, 0},
		{"no email", models.MatchCriteria{EmailAppPassword: "x"}, 1},
		{"no password", models.MatchCriteria{MonitorEmail: "a@b.c"}, 1},
		{"nothing", models.MatchCriteria{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MissingMailboxFields(&tt.criteria); len(got) != tt.want {
				t.Errorf("MissingMailboxFields() = %v, want %d entries", got, tt.want)
			}
		})
	}
}
