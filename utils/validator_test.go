package utils

import (
	"strings"
	"testing"
)

func TestValidateStruct(t *testing.T) {
	type request struct {
		Email        string `validate:"required,email"`
		Password     string `validate:"required,min=8"`
		PropertyType string `validate:"omitempty,oneof=rent buy"`
		Location     string `validate:"omitempty,max=10"`
	}

	tests := []struct {
		name string
		req  request
		want []string
	}{
		{
			name: "valid request",
			req:  request{Email: "user@example.com", Password: "s3cret-pass", PropertyType: "rent"},
		},
		{
			name: "missing required fields",
			req:  request{},
			want: []string{"email is required", "password is required"},
		},
		{
			name: "malformed email",
			req:  request{Email: "not-an-email", Password: "s3cret-pass"},
			want: []string{"email must be a valid email"},
		},
		{
			name: "password too short",
			req:  request{Email: "user@example.com", Password: "short"},
			want: []string{"password must be at least 8"},
		},
		{
			name: "property type outside the allowed set",
			req:  request{Email: "user@example.com", Password: "s3cret-pass", PropertyType: "castle"},
			want: []string{"propertytype must be one of: rent buy"},
		},
		{
			name: "location over the cap",
			req:  request{Email: "user@example.com", Password: "s3cret-pass", Location: "a very long location"},
			want: []string{"location must be at most 10"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("ValidateStruct() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateStruct() returned nil, want error")
			}
			for _, fragment := range tt.want {
				if !strings.Contains(err.Error(), fragment) {
					t.Errorf("error %q misses %q", err.Error(), fragment)
				}
			}
		})
	}
}
