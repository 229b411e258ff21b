package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrValidation marks preconditions rejected locally. No request is issued.
	ErrValidation = errors.New("validation failure")
	// ErrNetwork marks requests that did not complete successfully.
	ErrNetwork = errors.New("network failure")
	// ErrMalformedEntity marks backend payloads without a usable identifier.
	ErrMalformedEntity = errors.New("malformed entity")
	// ErrDiscarded reports a send whose session was deleted while it was in
	// flight. Its late result was dropped.
	ErrDiscarded = errors.New("send discarded: session was deleted")
)

var (
	ErrEmptyMessage   = fmt.Errorf("%w: message needs text or an image", ErrValidation)
	ErrSendInFlight   = fmt.Errorf("%w: a message is already being sent", ErrValidation)
	ErrLastSession    = fmt.Errorf("%w: cannot delete the last active session", ErrValidation)
	ErrUnknownSession = fmt.Errorf("%w: unknown session", ErrValidation)
	ErrUnknownMessage = fmt.Errorf("%w: unknown message", ErrValidation)
	ErrUnknownProject = fmt.Errorf("%w: unknown project", ErrValidation)
	ErrInvalidName    = fmt.Errorf("%w: invalid name", ErrValidation)
	ErrInvalidProject = fmt.Errorf("%w: invalid project", ErrValidation)
	ErrNotActive      = fmt.Errorf("%w: session is not active", ErrValidation)
	ErrProvisional    = fmt.Errorf("%w: message is not confirmed yet", ErrValidation)
	ErrEmptyPatch     = fmt.Errorf("%w: nothing to update", ErrValidation)
)

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	return nil
}

func ValidateProjectDraft(d ProjectDraft) error {
	if err := ValidateName(d.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProject, err)
	}
	if utf8.RuneCountInString(d.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d characters", ErrInvalidProject, MaxDescriptionLength)
	}
	if d.Color != "" && !colorRe.MatchString(d.Color) {
		return fmt.Errorf("%w: color %q is not #RRGGBB", ErrInvalidProject, d.Color)
	}
	return nil
}

func ValidateProjectPatch(p ProjectPatch) error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	if p.Name != nil {
		if err := ValidateName(*p.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProject, err)
		}
	}
	if p.Description != nil && utf8.RuneCountInString(*p.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d characters", ErrInvalidProject, MaxDescriptionLength)
	}
	if p.Color != nil && !colorRe.MatchString(*p.Color) {
		return fmt.Errorf("%w: color %q is not #RRGGBB", ErrInvalidProject, *p.Color)
	}
	return nil
}
