package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/rickgao/issuewatch/internal/model"
)

// ErrTitleRequired is returned by CreateIssue for an empty title.
var ErrTitleRequired = errors.New("issue title is required")

// Attachment is a file uploaded with a new issue.
type Attachment struct {
	Name string
	Data io.Reader
}

// ListIssues returns issues matching filter, newest first. Reporters only
// see their own issues.
func (c *Client) ListIssues(ctx context.Context, filter model.IssueFilter) ([]model.Issue, error) {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.Severity != "" {
		query.Set("severity", string(filter.Severity))
	}
	if filter.AssignedTo != nil {
		query.Set("assigned_to", filter.AssignedTo.String())
	}

	var issues []model.Issue
	if err := c.get(ctx, "/api/issues/", query, &issues); err != nil {
		return nil, err
	}
	if filter.CreatedBy != nil {
		issues = filterCreatedBy(issues, *filter.CreatedBy)
	}
	return issues, nil
}

func filterCreatedBy(issues []model.Issue, id uuid.UUID) []model.Issue {
	out := issues[:0]
	for _, is := range issues {
		if is.CreatedBy == id {
			out = append(out, is)
		}
	}
	return out
}

// GetIssue returns a single issue.
func (c *Client) GetIssue(ctx context.Context, id uuid.UUID) (model.Issue, error) {
	var is model.Issue
	err := c.get(ctx, "/api/issues/"+id.String(), nil, &is)
	return is, err
}

// CreateIssue creates an issue. attachment may be nil.
func (c *Client) CreateIssue(ctx context.Context, in model.IssueCreate, attachment *Attachment) (model.Issue, error) {
	var is model.Issue
	if in.Title == "" {
		return is, ErrTitleRequired
	}

	body, contentType, err := issueForm(in, attachment)
	if err != nil {
		return is, err
	}
	err = c.send(ctx, request{
		method:      http.MethodPost,
		path:        "/api/issues/",
		body:        body,
		contentType: contentType,
	}, &is)
	return is, err
}

// issueForm encodes in as the multipart form the server expects.
func issueForm(in model.IssueCreate, attachment *Attachment) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"title", in.Title},
		{"description", in.Description},
		{"severity", string(in.Severity)},
		{"tags", in.Tags},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("encode form: %w", err)
		}
	}

	if attachment != nil {
		part, err := w.CreateFormFile("file", attachment.Name)
		if err != nil {
			return nil, "", fmt.Errorf("encode attachment: %w", err)
		}
		if _, err := io.Copy(part, attachment.Data); err != nil {
			return nil, "", fmt.Errorf("read attachment: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// UpdateIssue applies the non-nil fields of in.
func (c *Client) UpdateIssue(ctx context.Context, id uuid.UUID, in model.IssueUpdate) (model.Issue, error) {
	var is model.Issue
	req, err := jsonRequest(http.MethodPut, "/api/issues/"+id.String(), in)
	if err != nil {
		return is, err
	}
	err = c.send(ctx, req, &is)
	return is, err
}

// DeleteIssue removes an issue. Admin only.
func (c *Client) DeleteIssue(ctx context.Context, id uuid.UUID) error {
	return c.send(ctx, request{method: http.MethodDelete, path: "/api/issues/" + id.String()}, nil)
}

// DashboardStats computes dashboard data from the visible issue list.
func (c *Client) DashboardStats(ctx context.Context) (model.DashboardData, error) {
	issues, err := c.ListIssues(ctx, model.IssueFilter{})
	if err != nil {
		return model.DashboardData{}, fmt.Errorf("load dashboard data: %w", err)
	}
	return model.ComputeDashboard(issues), nil
}

func decodeInto(body []byte, result any) error {
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
