package utils

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestPointer(t *testing.T) {
	if p := Pointer(2500.0); p == nil || *p != 2500.0 {
		t.Errorf("Pointer(2500.0) = %v", p)
	}
	if p := Pointer("gmail"); p == nil || *p != "gmail" {
		t.Errorf("Pointer(%q) = %v", "gmail", p)
	}
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		in   string
		want uint
	}{
		{"42", 42},
		{"0", 0},
		{"", 0},
		{"-1", 0},
		{"junk", 0},
		{"12.5", 0},
	}

	for _, tt := range tests {
		if got := ParseUint(tt.in); got != tt.want {
			t.Errorf("ParseUint(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestErrorResponse(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error != "Invalid request body" {
		t.Errorf("error = %q, want %q", body.Error, "Invalid request body")
	}
}
