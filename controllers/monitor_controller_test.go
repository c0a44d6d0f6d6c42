package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"repa/models"
	"repa/monitor"
)

type fakeCheckService struct {
	processUser     func(ctx context.Context, criteria *models.MatchCriteria) (int, error)
	retryUnfinished func(ctx context.Context, criteria *models.MatchCriteria) (int, error)
}

func (f *fakeCheckService) ProcessUser(ctx context.Context, criteria *models.MatchCriteria) (int, error) {
	return f.processUser(ctx, criteria)
}

func (f *fakeCheckService) RetryUnfinished(ctx context.Context, criteria *models.MatchCriteria) (int, error) {
	return f.retryUnfinished(ctx, criteria)
}

type fakeAnalysisStore struct {
	criteriaFor func(userID uint) (*models.MatchCriteria, error)
	listRecent  func(userID uint, limit int) ([]models.ProcessedEmail, error)
}

func (f *fakeAnalysisStore) CriteriaFor(userID uint) (*models.MatchCriteria, error) {
	return f.criteriaFor(userID)
}

func (f *fakeAnalysisStore) ListRecent(userID uint, limit int) ([]models.ProcessedEmail, error) {
	return f.listRecent(userID, limit)
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// monitorTestApp mounts the controller behind a stub that injects the
// authenticated user id the way the JWT middleware does.
func monitorTestApp(mc *MonitorController, userID uint) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", userID)
		return c.Next()
	})
	app.Post("/check", mc.CheckEmail)
	app.Get("/analyses", mc.GetAnalyses)
	return app
}

func monitoredCriteria(userID uint) *models.MatchCriteria {
	return &models.MatchCriteria{
		UserID:            userID,
		MonitorEmail:      "user@example.com",
		EmailProvider:     "gmail",
		EmailAppPassword:  "encrypted",
		MonitoringEnabled: true,
	}
}

func TestCheckEmailRunsOutsideRequestContext(t *testing.T) {
	var retryCtx context.Context
	processed := make(chan context.Context, 1)
	service := &fakeCheckService{
		retryUnfinished: func(ctx context.Context, criteria *models.MatchCriteria) (int, error) {
			retryCtx = ctx
			return 2, nil
		},
		processUser: func(ctx context.Context, criteria *models.MatchCriteria) (int, error) {
			processed <- ctx
			return 0, nil
		},
	}
	store := &fakeAnalysisStore{
		criteriaFor: func(userID uint) (*models.MatchCriteria, error) {
			return monitoredCriteria(userID), nil
		},
	}
	mc := NewMonitorController(service, store, discardLogger())

	app := monitorTestApp(mc, 7)
	resp, err := app.Test(httptest.NewRequest("POST", "/check", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	var body struct {
		Retried int `json:"retried"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Retried != 2 {
		t.Errorf("retried = %d, want 2", body.Retried)
	}

	// The handler has returned and fiber has released its request context.
	// Both pipeline calls must have been handed a context that survives that.
	if retryCtx != context.Background() {
		t.Errorf("RetryUnfinished got ctx %v, want context.Background()", retryCtx)
	}
	select {
	case ctx := <-processed:
		if ctx != context.Background() {
			t.Errorf("ProcessUser got ctx %v, want context.Background()", ctx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background scan never started")
	}
}

func TestCheckEmailRejections(t *testing.T) {
	tests := []struct {
		name       string
		criteria   func(userID uint) (*models.MatchCriteria, error)
		wantStatus int
		wantError  string
	}{
		{
			name: "no criteria saved",
			criteria: func(uint) (*models.MatchCriteria, error) {
				return nil, monitor.ErrNoCriteria
			},
			wantStatus: fiber.StatusNotFound,
			wantError:  "No criteria saved yet",
		},
		{
			name: "monitoring disabled",
			criteria: func(userID uint) (*models.MatchCriteria, error) {
				c := monitoredCriteria(userID)
				c.MonitoringEnabled = false
				return c, nil
			},
			wantStatus: fiber.StatusBadRequest,
			wantError:  "Email monitoring is not enabled",
		},
		{
			name: "mailbox not configured",
			criteria: func(userID uint) (*models.MatchCriteria, error) {
				c := monitoredCriteria(userID)
				c.MonitorEmail = ""
				c.EmailAppPassword = ""
				return c, nil
			},
			wantStatus: fiber.StatusBadRequest,
			wantError:  "Missing required fields: Email Address to Monitor, App Password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeCheckService{
				retryUnfinished: func(context.Context, *models.MatchCriteria) (int, error) {
					t.Error("RetryUnfinished called on a rejected check")
					return 0, nil
				},
				processUser: func(context.Context, *models.MatchCriteria) (int, error) {
					t.Error("ProcessUser called on a rejected check")
					return 0, nil
				},
			}
			store := &fakeAnalysisStore{criteriaFor: tt.criteria}
			mc := NewMonitorController(service, store, discardLogger())

			resp, err := monitorTestApp(mc, 7).Test(httptest.NewRequest("POST", "/check", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body struct {
				Error string `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}

func TestGetAnalysesBuckets(t *testing.T) {
	rows := []models.ProcessedEmail{
		{
			UserID:     7,
			ListingURL: "https://www.homegate.ch/rent/4001",
			Result:     models.SuccessResult("https://www.homegate.ch/rent/4001", "Great fit."),
		},
		{
			UserID:     7,
			ListingURL: "https://www.homegate.ch/rent/4002",
			Result:     models.ErrorResult("https://www.homegate.ch/rent/4002", "scrape timed out"),
		},
		{
			UserID:     7,
			ListingURL: "https://www.homegate.ch/rent/4003",
		},
	}
	store := &fakeAnalysisStore{
		listRecent: func(userID uint, limit int) ([]models.ProcessedEmail, error) {
			return rows, nil
		},
	}
	mc := NewMonitorController(&fakeCheckService{}, store, discardLogger())

	resp, err := monitorTestApp(mc, 7).Test(httptest.NewRequest("GET", "/analyses", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	var body struct {
		Completed []map[string]interface{} `json:"completed"`
		Pending   []map[string]interface{} `json:"pending"`
		Total     int                      `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
	if len(body.Completed) != 1 || body.Completed[0]["report"] != "Great fit." {
		t.Errorf("completed bucket = %v, want the one successful report", body.Completed)
	}
	if len(body.Pending) != 2 {
		t.Fatalf("pending bucket has %d entries, want 2", len(body.Pending))
	}
	if body.Pending[0]["status"] != "error" || !strings.Contains(body.Pending[0]["error"].(string), "timed out") {
		t.Errorf("errored entry = %v", body.Pending[0])
	}
	if body.Pending[1]["status"] != "pending" {
		t.Errorf("pending entry = %v", body.Pending[1])
	}
}

func TestGetAnalysesLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"/analyses", 50},
		{"/analyses?limit=10", 10},
		{"/analyses?limit=999", 50},
		{"/analyses?limit=junk", 50},
	}

	for _, tt := range tests {
		var gotLimit int
		store := &fakeAnalysisStore{
			listRecent: func(userID uint, limit int) ([]models.ProcessedEmail, error) {
				gotLimit = limit
				return nil, nil
			},
		}
		mc := NewMonitorController(&fakeCheckService{}, store, discardLogger())

		if _, err := monitorTestApp(mc, 7).Test(httptest.NewRequest("GET", tt.query, nil)); err != nil {
			t.Fatalf("app.Test(%q) error = %v", tt.query, err)
		}
		if gotLimit != tt.want {
			t.Errorf("ListRecent limit for %q = %d, want %d", tt.query, gotLimit, tt.want)
		}
	}
}
