package principal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Collaborator endpoints, relative to the configured base URL.
const (
	routeLogin     = "/login"
	routeMFAVerify = "/mfa/verify"
	routeMe        = "/me"
	routeLogout    = "/logout"
)

// HTTPClient implements the API collaborator over plain HTTP+JSON.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  Logger
}

// NewHTTPClient builds a client for the configured backend. The underlying
// http.Client carries no timeout of its own: deadlines come from the caller's
// context so the resolver's verify race stays the single source of truth.
func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.GetBaseURL(),
		client:  &http.Client{},
		logger:  defLogger{},
	}
}

// WithLogger overrides the client logger.
func (h *HTTPClient) WithLogger(logger Logger) *HTTPClient {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithHTTPClient swaps the underlying transport (useful for tests and proxies).
func (h *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	if client != nil {
		h.client = client
	}
	return h
}

var _ API = (*HTTPClient)(nil)

func (h *HTTPClient) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	var resp LoginResponse
	if err := h.post(ctx, routeLogin, creds, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *HTTPClient) VerifyMFA(ctx context.Context, req MFARequest) (*Tokens, error) {
	var tokens Tokens
	if err := h.post(ctx, routeMFAVerify, req, "", &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

func (h *HTTPClient) Me(ctx context.Context, accessToken string) (*Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+routeMe, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var principal Principal
	if err := h.do(req, &principal); err != nil {
		return nil, err
	}
	return &principal, nil
}

func (h *HTTPClient) Logout(ctx context.Context, accessToken string) error {
	return h.post(ctx, routeLogout, struct{}{}, accessToken, nil)
}

func (h *HTTPClient) post(ctx context.Context, route string, payload any, accessToken string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+route, bytes.NewReader(body))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return h.do(req, out)
}

func (h *HTTPClient) do(req *http.Request, out any) error {
	started := time.Now()

	resp, err := h.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "auth backend unreachable")
	}
	defer resp.Body.Close()

	h.logger.Debug("auth %s %s -> %d (%s)", req.Method, req.URL.Path, resp.StatusCode, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// read a bounded slice of the body for error context
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return h.statusError(resp.StatusCode, req.URL.Path, string(snippet))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode auth response")
	}

	return nil
}

func (h *HTTPClient) statusError(status int, path, snippet string) error {
	category := goerrors.CategoryOperation
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		category = goerrors.CategoryAuth
	}

	return goerrors.New(fmt.Sprintf("auth backend returned %d for %s", status, path), category).
		WithMetadata(map[string]any{
			"status": status,
			"path":   path,
			"body":   snippet,
		})
}
