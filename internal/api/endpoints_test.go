package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/issuewatch/internal/model"
)

const issueJSON = `{
	"id": "3f1c2b9e-8d4a-4c1e-9b7a-2e5f6a7b8c9d",
	"title": "Crash on save",
	"description": "Stack trace attached",
	"status": "OPEN",
	"severity": "HIGH",
	"tags": "editor,crash",
	"created_by": "0b6f0e36-6a7c-4d6b-9f4e-1a2b3c4d5e6f",
	"assigned_to": null,
	"created_at": "2024-03-01T10:00:00",
	"updated_at": "2024-03-01T10:00:00"
}`

var issueID = uuid.MustParse("3f1c2b9e-8d4a-4c1e-9b7a-2e5f6a7b8c9d")

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, WithRetries(1, time.Millisecond), WithTokenSource(StaticToken("tok")))
}

func TestClient_Health(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"status":"healthy","service":"issues-insights-tracker"}`))
	})

	hs, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if hs.Status != "healthy" || hs.Service != "issues-insights-tracker" {
		t.Errorf("Health() = %+v", hs)
	}
}

func TestClient_Login(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("username") != "ann@example.com" || r.PostForm.Get("password") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Invalid credentials"}`))
			return
		}
		w.Write([]byte(`{"access_token":"jwt","token_type":"bearer"}`))
	})

	tok, err := c.Login(context.Background(), "ann@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tok.AccessToken != "jwt" || Bearer(tok) != "Bearer jwt" {
		t.Errorf("token = %+v", tok)
	}

	_, err = c.Login(context.Background(), "ann@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() || apiErr.Message != "Invalid credentials" {
		t.Errorf("bad login error = %v", err)
	}
}

func TestClient_LoginNotRetried(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := c.Login(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestClient_Register(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/register" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var in model.UserCreate
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if in.Email == "taken@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"Email already registered"}`))
			return
		}
		if in.Name != "Ann" || in.Role != model.RoleReporter {
			t.Errorf("body = %+v", in)
		}
		w.Write([]byte(`{"access_token":"new","token_type":"bearer"}`))
	})

	tok, err := c.Register(context.Background(), model.UserCreate{
		Name: "Ann", Email: "ann@example.com", Password: "pw", Role: model.RoleReporter,
	})
	if err != nil || tok.AccessToken != "new" {
		t.Fatalf("Register = %+v, %v", tok, err)
	}

	_, err = c.Register(context.Background(), model.UserCreate{Email: "taken@example.com"})
	if err == nil || !strings.Contains(err.Error(), "Email already registered") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_Me(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer tok", "Bearer cached":
			w.Write([]byte(`{"id":"0b6f0e36-6a7c-4d6b-9f4e-1a2b3c4d5e6f","name":"Ann","email":"ann@example.com","role":"MAINTAINER"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Could not validate credentials"}`))
		}
	})

	u, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if u.Name != "Ann" || u.Role != model.RoleMaintainer {
		t.Errorf("Me() = %+v", u)
	}

	if _, err := c.MeWithToken(context.Background(), "cached"); err != nil {
		t.Errorf("MeWithToken(cached) failed: %v", err)
	}
	if _, err := c.MeWithToken(context.Background(), "expired"); !IsUnauthorized(err) {
		t.Errorf("MeWithToken(expired) error = %v", err)
	}
}

func TestClient_ListIssues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/issues/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "OPEN" || q.Get("severity") != "HIGH" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte("[" + issueJSON + "]"))
	})

	issues, err := c.ListIssues(context.Background(), model.IssueFilter{
		Status:   model.StatusOpen,
		Severity: model.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != issueID {
		t.Fatalf("issues = %+v", issues)
	}
	if tags := issues[0].TagList(); len(tags) != 2 || tags[1] != "crash" {
		t.Errorf("TagList() = %q", tags)
	}

	other := uuid.New()
	issues, err = c.ListIssues(context.Background(), model.IssueFilter{
		Status: model.StatusOpen, Severity: model.SeverityHigh, CreatedBy: &other,
	})
	if err != nil || len(issues) != 0 {
		t.Errorf("CreatedBy filter = %d issues, %v", len(issues), err)
	}
}

func TestClient_GetIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/issues/"+issueID.String() {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Issue not found"}`))
			return
		}
		w.Write([]byte(issueJSON))
	})

	is, err := c.GetIssue(context.Background(), issueID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if is.Title != "Crash on save" {
		t.Errorf("Title = %q", is.Title)
	}

	_, err = c.GetIssue(context.Background(), uuid.New())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsNotFound() {
		t.Errorf("missing issue error = %v", err)
	}
}

func TestClient_CreateIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("title") != "Crash on save" || r.FormValue("severity") != "HIGH" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		if _, ok := r.MultipartForm.Value["description"]; ok {
			t.Error("empty description should be omitted")
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "trace.txt" || string(data) != "panic: nil map" {
			t.Errorf("file = %q %q", hdr.Filename, data)
		}
		w.Write([]byte(issueJSON))
	})

	is, err := c.CreateIssue(context.Background(),
		model.IssueCreate{Title: "Crash on save", Severity: model.SeverityHigh},
		&Attachment{Name: "trace.txt", Data: strings.NewReader("panic: nil map")},
	)
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if is.ID != issueID {
		t.Errorf("ID = %v", is.ID)
	}

	if _, err := c.CreateIssue(context.Background(), model.IssueCreate{}, nil); !errors.Is(err, ErrTitleRequired) {
		t.Errorf("empty title error = %v", err)
	}
}

func TestClient_UpdateIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body) != 1 || body["status"] != "TRIAGED" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(strings.Replace(issueJSON, `"OPEN"`, `"TRIAGED"`, 1)))
	})

	status := model.StatusTriaged
	is, err := c.UpdateIssue(context.Background(), issueID, model.IssueUpdate{Status: &status})
	if err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	if is.Status != model.StatusTriaged {
		t.Errorf("Status = %q", is.Status)
	}
}

func TestClient_DeleteIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/issues/"+issueID.String() {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"message":"Issue deleted successfully"}`))
	})

	if err := c.DeleteIssue(context.Background(), issueID); err != nil {
		t.Errorf("DeleteIssue failed: %v", err)
	}
}

func TestClient_DashboardStats(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		second := strings.Replace(issueJSON, `"HIGH"`, `"LOW"`, 1)
		second = strings.Replace(second, `"OPEN"`, `"DONE"`, 1)
		w.Write([]byte("[" + issueJSON + "," + second + "]"))
	})

	d, err := c.DashboardStats(context.Background())
	if err != nil {
		t.Fatalf("DashboardStats failed: %v", err)
	}
	if d.TotalOpen != 1 {
		t.Errorf("TotalOpen = %d, want 1", d.TotalOpen)
	}
	if len(d.SeverityBreakdown) != 4 || len(d.StatusBreakdown) != 4 {
		t.Errorf("breakdowns = %+v", d)
	}
}

func TestClient_DashboardStatsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := c.DashboardStats(context.Background()); !IsUnauthorized(err) {
		t.Errorf("error = %v, want unauthorized", err)
	}
}
