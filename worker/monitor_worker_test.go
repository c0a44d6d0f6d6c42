package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"repa/config"
	"repa/models"
)

type fakeSource struct {
	rows []models.MatchCriteria
	err  error
}

func (f *fakeSource) ListMonitoringEnabled() ([]models.MatchCriteria, error) {
	return f.rows, f.err
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []uint
	err       error
}

func (f *fakeProcessor) ProcessUser(ctx context.Context, criteria *models.MatchCriteria) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, criteria.UserID)
	return 0, f.err
}

func (f *fakeProcessor) processedIDs() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint(nil), f.processed...)
}

func newTestWorker(source *fakeSource, processor *fakeProcessor) *MonitorWorker {
	config.AppConfig = config.Config{
		ScanInterval:         300 * time.Second,
		ScanRecoveryInterval: 60 * time.Second,
		AnalysisConcurrency:  2,
	}
	return NewMonitorWorker(source, processor, log.New(io.Discard, "", 0))
}

func TestRunOnceProcessesEnabledUsers(t *testing.T) {
	source := &fakeSource{
		rows: []models.MatchCriteria{
			{UserID: 1, MonitorEmail: "a@gmail.com", EmailAppPassword: "enc", MonitoringEnabled: true},
			{UserID: 2, MonitorEmail: "b@gmail.com", EmailAppPassword: "enc", MonitoringEnabled: true},
			{UserID: 3, MonitorEmail: "c@gmail.com", EmailAppPassword: "enc", MonitoringEnabled: true},
		},
	}
	processor := &fakeProcessor{}

	mw := newTestWorker(source, processor)
	if err := mw.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	got := processor.processedIDs()
	if len(got) != 3 {
		t.Fatalf("processed %d users, want 3", len(got))
	}
	seen := make(map[uint]bool)
	for _, id := range got {
		seen[id] = true
	}
	for _, want := range []uint{1, 2, 3} {
		if !seen[want] {
			t.Errorf("user %d never processed", want)
		}
	}
}

func TestRunOnceSkipsUnconfiguredUsers(t *testing.T) {
	source := &fakeSource{
		rows: []models.MatchCriteria{
			{UserID: 1, MonitorEmail: "a@gmail.com", EmailAppPassword: "enc", MonitoringEnabled: true},
			// Enabled but the app password was never saved
			{UserID: 2, MonitorEmail: "b@gmail.com", MonitoringEnabled: true},
		},
	}
	processor := &fakeProcessor{}

	mw := newTestWorker(source, processor)
	if err := mw.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	got := processor.processedIDs()
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("processed = %v, want only user 1", got)
	}
}

func TestRunOncePerUserErrorDoesNotFailIteration(t *testing.T) {
	source := &fakeSource{
		rows: []models.MatchCriteria{
			{UserID: 1, MonitorEmail: "a@gmail.com", EmailAppPassword: "enc", MonitoringEnabled: true},
		},
	}
	processor := &fakeProcessor{err: errors.New("login failed")}

	mw := newTestWorker(source, processor)
	if err := mw.runOnce(context.Background()); err != nil {
		t.Errorf("runOnce() = %v, want nil for per-user failures", err)
	}
}

func TestRunOnceEnumerationError(t *testing.T) {
	source := &fakeSource{err: errors.New("db gone")}
	processor := &fakeProcessor{}

	mw := newTestWorker(source, processor)
	if err := mw.runOnce(context.Background()); err == nil {
		t.Error("runOnce() = nil, want enumeration error")
	}
}
