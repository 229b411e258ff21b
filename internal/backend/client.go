package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

const DefaultTimeout = 2 * time.Minute

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Auth       Authenticator
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend base url is empty")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, httpClient: hc, auth: cfg.Auth}, nil
}

// APIError is a non-2xx answer. Detail carries the FastAPI "detail" field
// when the body has one.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
}

func (c *Client) ListSessions(ctx context.Context) ([]normalize.SessionRecord, error) {
	var out []normalize.SessionRecord
	if err := c.doRequest(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, name string) (normalize.SessionRecord, error) {
	body := map[string]any{"name": name, "archived": false}
	var out normalize.SessionRecord
	err := c.doRequest(ctx, http.MethodPost, "/sessions", body, &out)
	return out, err
}

func (c *Client) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (normalize.SessionRecord, error) {
	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Archived != nil {
		body["archived"] = *patch.Archived
	}
	if patch.ProjectID != nil {
		body["projectId"] = *patch.ProjectID
	}
	var out normalize.SessionRecord
	err := c.doRequest(ctx, http.MethodPut, "/sessions/"+url.PathEscape(id), body, &out)
	return out, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ShareSession(ctx context.Context, id string) (string, error) {
	var out struct {
		ShareLink string `json:"shareLink"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/share", nil, &out); err != nil {
		return "", err
	}
	if out.ShareLink == "" {
		return "", fmt.Errorf("%w: share response has no shareLink", model.ErrNetwork)
	}
	return out.ShareLink, nil
}

func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]normalize.MessageRecord, error) {
	var out []normalize.MessageRecord
	if err := c.doRequest(ctx, http.MethodGet, "/messages/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID, text, imageRef string) (normalize.MessageRecord, error) {
	body := map[string]any{"sessionId": sessionID, "text": text}
	if imageRef != "" {
		body["imageData"] = imageRef
	} else {
		body["imageData"] = nil
	}
	var out normalize.MessageRecord
	err := c.doRequest(ctx, http.MethodPost, "/messages", body, &out)
	return out, err
}

func (c *Client) RequestAIResponse(ctx context.Context, sessionID, messageID string) (normalize.MessageRecord, error) {
	body := map[string]any{"sessionId": sessionID, "messageId": messageID}
	var out normalize.MessageRecord
	err := c.doRequest(ctx, http.MethodPost, "/messages/ai-response", body, &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListProjects(ctx context.Context) ([]normalize.ProjectRecord, error) {
	var out []normalize.ProjectRecord
	if err := c.doRequest(ctx, http.MethodGet, "/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateProject(ctx context.Context, draft model.ProjectDraft) (normalize.ProjectRecord, error) {
	color := draft.Color
	if color == "" {
		color = model.DefaultProjectColor
	}
	body := map[string]any{"name": draft.Name, "description": draft.Description, "color": color}
	var out normalize.ProjectRecord
	err := c.doRequest(ctx, http.MethodPost, "/projects", body, &out)
	return out, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) (normalize.ProjectRecord, error) {
	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.Color != nil {
		body["color"] = *patch.Color
	}
	var out normalize.ProjectRecord
	err := c.doRequest(ctx, http.MethodPut, "/projects/"+url.PathEscape(id), body, &out)
	return out, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ProjectSessions(ctx context.Context, projectID string) ([]normalize.SessionRecord, error) {
	var out []normalize.SessionRecord
	if err := c.doRequest(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// doRequest issues one JSON request. Every failure it returns wraps
// model.ErrNetwork.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal request body: %w", model.ErrNetwork, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", model.ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if err := c.auth.Authorize(req); err != nil {
			return fmt.Errorf("%w: authorize request: %w", model.ErrNetwork, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", model.ErrNetwork, method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %w", model.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(respBody)}
		return fmt.Errorf("%w: %s %s: %w", model.ErrNetwork, method, endpoint, apiErr)
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: decode %s response: %w", model.ErrNetwork, endpoint, err)
		}
	}
	return nil
}

func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		// FastAPI validation errors carry a list of objects.
		return string(payload.Detail)
	}
	return payload.Error
}
