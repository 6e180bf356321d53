package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rickgao/issuewatch/internal/model"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.get(ctx, "/health", nil, &hs)
	return hs, err
}

// Register creates an account and returns its access token.
func (c *Client) Register(ctx context.Context, in model.UserCreate) (model.Token, error) {
	var tok model.Token
	req, err := jsonRequest(http.MethodPost, "/api/auth/register", in)
	if err != nil {
		return tok, err
	}
	err = c.send(ctx, req, &tok)
	return tok, err
}

// Login exchanges email and password for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (model.Token, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var tok model.Token
	err := c.send(ctx, request{
		method:      http.MethodPost,
		path:        "/api/auth/login",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &tok)
	return tok, err
}

// Me returns the user the token source's token belongs to.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.get(ctx, "/api/auth/me", nil, &u)
	return u, err
}

// MeWithToken is Me using token instead of the token source. Used to
// validate a cached token before adopting it.
func (c *Client) MeWithToken(ctx context.Context, token string) (model.User, error) {
	var u model.User
	body, err := c.doRequest(ctx, request{method: http.MethodGet, path: "/api/auth/me", token: &token})
	if err != nil {
		return u, err
	}
	err = decodeInto(body, &u)
	return u, err
}

// Bearer returns the Authorization header value for tok.
func Bearer(tok model.Token) string {
	kind := tok.TokenType
	if kind == "" || strings.EqualFold(kind, "bearer") {
		kind = "Bearer"
	}
	return kind + " " + tok.AccessToken
}
