package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Mailbox provider names accepted in MatchCriteria.EmailProvider.
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
	ProviderYahoo   = "yahoo"
	ProviderICloud  = "icloud"
	ProviderOther   = "other"
)

// DefaultSubjectKeyword is used when no subject keywords are configured.
const DefaultSubjectKeyword = "match"

// Requirements holds free-form listing requirements extracted from chat,
// e.g. {"requirements": ["balcony", "close to ski slopes"]}. Stored as JSONB.
type Requirements map[string]interface{}

func (r Requirements) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func (r *Requirements) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported type %T for requirements", value)
		}
		b = []byte(s)
	}
	return json.Unmarshal(b, r)
}

// MatchCriteria stores a user's apartment search criteria together with the
// mailbox monitoring configuration. One row per user, upsert semantics.
type MatchCriteria struct {
	gorm.Model
	UserID uint `gorm:"uniqueIndex;not null" json:"user_id"`

	// Search criteria
	PropertyType   string       `json:"property_type,omitempty"` // "rent" or "buy"
	Location       string       `json:"location,omitempty"`
	MinRooms       *int         `json:"min_rooms,omitempty"`
	MaxRooms       *int         `json:"max_rooms,omitempty"`
	MinLivingSpace *float64     `json:"min_living_space,omitempty"`
	MaxLivingSpace *float64     `json:"max_living_space,omitempty"`
	MinRent        *float64     `json:"min_rent,omitempty"`
	MaxRent        *float64     `json:"max_rent,omitempty"`
	Occupants      *int         `json:"occupants,omitempty"`
	Duration       string       `json:"duration,omitempty"`
	StartingWhen   string       `json:"starting_when,omitempty"`
	Requirements   Requirements `gorm:"type:jsonb" json:"user_additional_requirements,omitempty"`

	// Mailbox monitoring configuration
	MonitorEmail      string     `json:"monitor_email,omitempty"`
	EmailProvider     string     `gorm:"default:'gmail'" json:"email_provider,omitempty"`
	EmailAppPassword  string     `json:"-"` // AES encrypted at rest
	MonitoringEnabled bool       `gorm:"default:false" json:"email_monitoring_enabled"`
	SenderFilter      string     `json:"email_sender,omitempty"`           // comma separated substrings
	SubjectKeywords   string     `json:"email_subject_keywords,omitempty"` // comma separated, default "match"
	LastEmailCheck    *time.Time `json:"last_email_check,omitempty"`

	// Relations
	User User `json:"-"`
}

// SenderFilters returns the configured sender filter substrings, lowercased.
// An empty slice means no sender filtering.
func (m *MatchCriteria) SenderFilters() []string {
	return splitFilterList(m.SenderFilter)
}

// SubjectFilters returns the configured subject keywords, lowercased.
// Falls back to the default keyword when nothing is configured.
func (m *MatchCriteria) SubjectFilters() []string {
	kws := splitFilterList(m.SubjectKeywords)
	if len(kws) == 0 {
		return []string{DefaultSubjectKeyword}
	}
	return kws
}

func splitFilterList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
