// Package normalize reconciles the identifier fields backend payloads carry
// into the single canonical id the stores key everything by. Every backend
// response passes through here before it reaches a store.
package normalize

import (
	"fmt"
	"strings"

	"geonli-desk/internal/model"
)

type Kind string

const (
	KindSession Kind = "session"
	KindMessage Kind = "message"
	KindProject Kind = "project"
)

// MalformedError reports a record that cannot be turned into an entity.
type MalformedError struct {
	Kind   Kind
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s record: %s", model.ErrMalformedEntity, e.Kind, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return model.ErrMalformedEntity
}

func malformed(kind Kind, format string, args ...any) error {
	return &MalformedError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// CanonicalID prefers the canonical field and falls back to the legacy one.
func CanonicalID(id, legacyID string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return strings.TrimSpace(legacyID)
}

type options struct {
	projectDeleted func(projectID string) bool
}

type Option func(*options)

// WithDeletedProjects clears the project reference of sessions pointing at a
// project the client knows was deleted.
func WithDeletedProjects(deleted func(projectID string) bool) Option {
	return func(o *options) { o.projectDeleted = deleted }
}

func Session(rec SessionRecord, opts ...Option) (model.Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	id := CanonicalID(rec.ID, rec.LegacyID)
	if id == "" {
		return model.Session{}, malformed(KindSession, "no id or _id (name=%q)", rec.Name)
	}

	s := model.Session{
		ID:        id,
		Name:      rec.Name,
		Archived:  rec.Archived,
		CreatedAt: rec.CreatedAt.Time,
		UpdatedAt: rec.UpdatedAt.Time,
	}
	if rec.ProjectID != nil {
		s.ProjectID = strings.TrimSpace(*rec.ProjectID)
	}
	if s.ProjectID != "" && o.projectDeleted != nil && o.projectDeleted(s.ProjectID) {
		s.ProjectID = ""
	}
	return s, nil
}

func Message(rec MessageRecord) (model.Message, error) {
	id := CanonicalID(rec.ID, rec.LegacyID)
	if id == "" {
		return model.Message{}, malformed(KindMessage, "no id or _id (session=%q)", rec.SessionID)
	}
	sessionID := strings.TrimSpace(rec.SessionID)
	if sessionID == "" {
		return model.Message{}, malformed(KindMessage, "message %s has no sessionId", id)
	}
	sender := model.Sender(strings.ToLower(strings.TrimSpace(rec.Sender)))
	if !sender.Valid() {
		return model.Message{}, malformed(KindMessage, "message %s has unknown sender %q", id, rec.Sender)
	}

	created := rec.CreatedAt.Time
	if created.IsZero() {
		created = rec.Timestamp.Time
	}

	m := model.Message{
		ID:        id,
		SessionID: sessionID,
		Sender:    sender,
		Text:      rec.Text,
		CreatedAt: created,
	}
	if rec.ImageData != nil {
		m.ImageRef = *rec.ImageData
	}
	return m, nil
}

func Project(rec ProjectRecord) (model.Project, error) {
	id := CanonicalID(rec.ID, rec.LegacyID)
	if id == "" {
		return model.Project{}, malformed(KindProject, "no id or _id (name=%q)", rec.Name)
	}
	p := model.Project{
		ID:          id,
		Name:        rec.Name,
		Description: rec.Description,
		Color:       rec.Color,
		CreatedAt:   rec.CreatedAt.Time,
		UpdatedAt:   rec.UpdatedAt.Time,
	}
	if p.Color == "" {
		p.Color = model.DefaultProjectColor
	}
	return p, nil
}

// Sessions normalizes every record, keeping input order. Records that fail
// are left out and reported in the second return value.
func Sessions(recs []SessionRecord, opts ...Option) ([]model.Session, []error) {
	out := make([]model.Session, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		s, err := Session(rec, opts...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

func Messages(recs []MessageRecord) ([]model.Message, []error) {
	out := make([]model.Message, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		m, err := Message(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, m)
	}
	return out, errs
}

func Projects(recs []ProjectRecord) ([]model.Project, []error) {
	out := make([]model.Project, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		p, err := Project(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errs
}
