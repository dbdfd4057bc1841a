package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTaskMarshalUsesColumnNames(t *testing.T) {
	task := Task{ID: "t1", Title: "Title", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}

	payload, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	for _, field := range []string{`"is_resolved":false`, `"created_at":"2024-01-02T03:04:05Z"`, `"description":""`} {
		if !strings.Contains(string(payload), field) {
			t.Fatalf("expected %s in %s", field, payload)
		}
	}
}

func TestNewTaskValidate(t *testing.T) {
	in := NewTask{Title: "  write  ", Description: " notes "}
	if err := in.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Title != "write" || in.Description != "notes" {
		t.Fatalf("fields not trimmed: %+v", in)
	}

	cases := map[string]NewTask{
		"empty_title":      {Title: ""},
		"blank_title":      {Title: "   "},
		"long_title":       {Title: strings.Repeat("a", MaxTitleLength+1)},
		"long_description": {Title: "ok", Description: strings.Repeat("d", MaxDescriptionLength+1)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := tc.Validate(); !errors.Is(err, ErrInvalidTask) {
				t.Fatalf("expected ErrInvalidTask, got %v", err)
			}
		})
	}
}

func TestTitleLengthCountsRunes(t *testing.T) {
	in := NewTask{Title: strings.Repeat("가", MaxTitleLength)}
	if err := in.Validate(); err != nil {
		t.Fatalf("multi-byte title at the limit must pass: %v", err)
	}
}

func TestPatchMergeLatestWins(t *testing.T) {
	p := TaskPatch{Title: StringPtr("a")}
	p = p.Merge(TaskPatch{Description: StringPtr("d")})
	p = p.Merge(TaskPatch{Title: StringPtr("b")})

	if *p.Title != "b" || *p.Description != "d" || p.Resolved != nil {
		t.Fatalf("unexpected merge result: title=%v desc=%v resolved=%v", *p.Title, *p.Description, p.Resolved)
	}
}

func TestPatchMergeDoesNotAlias(t *testing.T) {
	src := TaskPatch{Title: StringPtr("a")}
	merged := TaskPatch{}.Merge(src)
	*src.Title = "changed"
	if *merged.Title != "a" {
		t.Fatalf("merge must copy values, got %q", *merged.Title)
	}
}

func TestPatchValidate(t *testing.T) {
	if err := (TaskPatch{}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("empty patch must be invalid, got %v", err)
	}
	if err := (TaskPatch{Title: StringPtr("")}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("blank title must be invalid, got %v", err)
	}
	if err := (TaskPatch{Description: StringPtr("")}).Validate(); err != nil {
		t.Fatalf("clearing the description is allowed: %v", err)
	}
	if err := (TaskPatch{Resolved: BoolPtr(true)}).Validate(); err != nil {
		t.Fatalf("resolution patch is valid: %v", err)
	}
}

func TestPatchApply(t *testing.T) {
	orig := Task{ID: "1", Title: "t", Description: "d"}
	got := TaskPatch{Resolved: BoolPtr(true), Description: StringPtr("")}.Apply(orig)
	if !got.Resolved || got.Description != "" || got.Title != "t" {
		t.Fatalf("unexpected result %+v", got)
	}
	if orig.Resolved {
		t.Fatalf("apply must not modify the original")
	}
}
