// Package backend holds the contracts the stores consume and a REST/JSON
// client that implements them.
package backend

import (
	"context"
	"net/http"

	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

type SessionBackend interface {
	ListSessions(ctx context.Context) ([]normalize.SessionRecord, error)
	CreateSession(ctx context.Context, name string) (normalize.SessionRecord, error)
	UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (normalize.SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	ShareSession(ctx context.Context, id string) (string, error)
}

type MessageBackend interface {
	ListMessages(ctx context.Context, sessionID string) ([]normalize.MessageRecord, error)
	SendMessage(ctx context.Context, sessionID, text, imageRef string) (normalize.MessageRecord, error)
	// RequestAIResponse asks the evaluation service to answer a confirmed
	// user message. It may take a long time.
	RequestAIResponse(ctx context.Context, sessionID, messageID string) (normalize.MessageRecord, error)
	DeleteMessage(ctx context.Context, id string) error
}

type ProjectBackend interface {
	ListProjects(ctx context.Context) ([]normalize.ProjectRecord, error)
	CreateProject(ctx context.Context, draft model.ProjectDraft) (normalize.ProjectRecord, error)
	UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) (normalize.ProjectRecord, error)
	DeleteProject(ctx context.Context, id string) error
	ProjectSessions(ctx context.Context, projectID string) ([]normalize.SessionRecord, error)
}

// Authenticator attaches credentials to an outgoing request.
type Authenticator interface {
	Authorize(req *http.Request) error
}

type AuthenticatorFunc func(req *http.Request) error

func (f AuthenticatorFunc) Authorize(req *http.Request) error {
	return f(req)
}

var (
	_ SessionBackend = (*Client)(nil)
	_ MessageBackend = (*Client)(nil)
	_ ProjectBackend = (*Client)(nil)
)
