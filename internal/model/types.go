package model

import "time"

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

const (
	DefaultSessionPrefix = "New Analysis"
	DefaultProjectColor  = "#6366f1"
	MaxNameLength        = 200
	MaxDescriptionLength = 500
)

type Session struct {
	ID        string
	Name      string
	Archived  bool
	ProjectID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Session) HasProject() bool {
	return s.ProjectID != ""
}

// Message is one entry of a session log. Provisional messages carry a
// client-generated id until the backend confirms them.
type Message struct {
	ID          string
	SessionID   string
	Sender      Sender
	Text        string
	ImageRef    string
	CreatedAt   time.Time
	Provisional bool
}

func (m Message) HasImage() bool {
	return m.ImageRef != ""
}

type Project struct {
	ID          string
	Name        string
	Description string
	Color       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionPatch is a partial session update. Nil fields are left untouched;
// a ProjectID pointing at "" detaches the session from its project.
type SessionPatch struct {
	Name      *string
	Archived  *bool
	ProjectID *string
}

func (p SessionPatch) Empty() bool {
	return p.Name == nil && p.Archived == nil && p.ProjectID == nil
}

type ProjectDraft struct {
	Name        string
	Description string
	Color       string
}

type ProjectPatch struct {
	Name        *string
	Description *string
	Color       *string
}

func (p ProjectPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Color == nil
}

// Draft is what the user submits: text, an attached image, or both.
type Draft struct {
	Text     string
	ImageRef string
}

func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }
