package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 4000
)

// Task is a single journal entry. It belongs to the calendar day of CreatedAt.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Resolved    bool      `json:"is_resolved"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask carries the fields accepted when creating a task. A zero Day means today.
type NewTask struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Day         time.Time `json:"-"`
}

// TaskPatch carries partial updates for a task.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Resolved    *bool   `json:"is_resolved,omitempty"`
}

// Reopens reports whether the patch marks a task unresolved.
func (p TaskPatch) Reopens() bool {
	return p.Resolved != nil && !*p.Resolved
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Resolved == nil
}

// TouchesText reports whether the patch edits title or description.
func (p TaskPatch) TouchesText() bool {
	return p.Title != nil || p.Description != nil
}

// Merge overlays the fields set in other; later values win.
func (p TaskPatch) Merge(other TaskPatch) TaskPatch {
	if other.Title != nil {
		v := *other.Title
		p.Title = &v
	}
	if other.Description != nil {
		v := *other.Description
		p.Description = &v
	}
	if other.Resolved != nil {
		v := *other.Resolved
		p.Resolved = &v
	}
	return p
}

// Normalize trims the text fields that are present.
func (p TaskPatch) Normalize() TaskPatch {
	if p.Title != nil {
		v := strings.TrimSpace(*p.Title)
		p.Title = &v
	}
	if p.Description != nil {
		v := strings.TrimSpace(*p.Description)
		p.Description = &v
	}
	return p
}

// Validate applies the task field rules to the fields present in the patch.
func (p TaskPatch) Validate() error {
	if p.Empty() {
		return fmt.Errorf("%w: no fields to update", ErrInvalidTask)
	}
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	return nil
}

// Apply returns a copy of t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Resolved != nil {
		t.Resolved = *p.Resolved
	}
	return t
}

// Validate checks the creation fields after trimming them in place.
func (n *NewTask) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	if err := validateTitle(n.Title); err != nil {
		return err
	}
	return validateDescription(n.Description)
}

func validateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidTask, MaxTitleLength)
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidTask, MaxDescriptionLength)
	}
	return nil
}

// CheckPatch rejects text edits on a resolved task unless the same patch
// reopens it.
func (t Task) CheckPatch(p TaskPatch) error {
	if t.Resolved && p.TouchesText() && !p.Reopens() {
		return ErrTaskResolved
	}
	return nil
}

// StringPtr and BoolPtr build patch fields.
func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }
