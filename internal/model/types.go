package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// IssueStatus is the workflow state of an issue.
type IssueStatus string

const (
	StatusOpen       IssueStatus = "OPEN"
	StatusTriaged    IssueStatus = "TRIAGED"
	StatusInProgress IssueStatus = "IN_PROGRESS"
	StatusDone       IssueStatus = "DONE"

	// Older servers report these instead of DONE.
	StatusResolved IssueStatus = "RESOLVED"
	StatusClosed   IssueStatus = "CLOSED"
)

// Statuses lists the workflow states in dashboard order.
var Statuses = []IssueStatus{StatusOpen, StatusTriaged, StatusInProgress, StatusDone}

// Valid reports whether s is a status the server can return.
func (s IssueStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusTriaged, StatusInProgress, StatusDone, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Severity ranks the impact of an issue.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists severities in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Role is a user's permission level.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleMaintainer Role = "MAINTAINER"
	RoleReporter   Role = "REPORTER"
)

// level returns the rank of r in the role hierarchy (0 for unknown roles).
func (r Role) level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleMaintainer:
		return 2
	case RoleReporter:
		return 1
	}
	return 0
}

// AtLeast reports whether r grants everything required grants.
// Unknown roles grant nothing.
func (r Role) AtLeast(required Role) bool {
	return r.level() > 0 && r.level() >= required.level()
}

// -----------------------------------------------------------------------------
// Resources
// -----------------------------------------------------------------------------

// Issue is a tracked issue as returned by the REST API.
type Issue struct {
	ID          uuid.UUID   `json:"id"`
	Title       string      `json:"title"`
	Description *string     `json:"description,omitempty"`
	Status      IssueStatus `json:"status"`
	Severity    Severity    `json:"severity,omitempty"`
	Tags        *string     `json:"tags,omitempty"`     // comma separated
	FilePath    *string     `json:"file_path,omitempty"` // attachment, if any
	CreatedBy   uuid.UUID   `json:"created_by"`
	AssignedTo  *uuid.UUID  `json:"assigned_to,omitempty"`
	CreatedAt   Timestamp   `json:"created_at"`
	UpdatedAt   Timestamp   `json:"updated_at"`
}

// TagList splits the comma separated tags, dropping empty entries.
func (i Issue) TagList() []string {
	if i.Tags == nil {
		return nil
	}
	var out []string
	for _, t := range strings.Split(*i.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// IssueCreate is the body of POST /api/issues/.
type IssueCreate struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Tags        string   `json:"tags,omitempty"`
}

// IssueUpdate is the body of PUT /api/issues/{id}. Nil fields are left unchanged.
type IssueUpdate struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Status      *IssueStatus `json:"status,omitempty"`
	Severity    *Severity    `json:"severity,omitempty"`
	Tags        *string      `json:"tags,omitempty"`
	AssignedTo  *uuid.UUID   `json:"assigned_to,omitempty"`
}

// IssueFilter narrows GET /api/issues/. Zero fields are omitted.
type IssueFilter struct {
	Status     IssueStatus
	Severity   Severity
	AssignedTo *uuid.UUID
	CreatedBy  *uuid.UUID
}

// User is the authenticated account as returned by /api/auth/me.
type User struct {
	ID    uuid.UUID `json:"id" yaml:"id"`
	Name  string    `json:"name" yaml:"name"`
	Email string    `json:"email" yaml:"email"`
	Role  Role      `json:"role" yaml:"role"`
}

// UserCreate is the body of POST /api/auth/register.
type UserCreate struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

// Token is returned by login and register.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// -----------------------------------------------------------------------------
// Timestamp
// -----------------------------------------------------------------------------

// Timestamp is a time.Time that also decodes zone-less ISO 8601 values.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses s using the accepted layouts. Zone-less values are UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, err
}

// UnmarshalJSON accepts null, RFC 3339 and zone-less timestamps.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(strings.Trim(s, `"`))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON writes RFC 3339 in UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}
