// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Persisted timestamps and dates carry a four-digit year.
const (
	minYear = 0
	maxYear = 9999
)

// ValidateSnapshot validates a TaskSnapshot against the storage invariants.
//
// Validation rules:
//   - ID must be non-empty with no surrounding whitespace
//   - ID, Name and Details must be valid UTF-8
//   - Status must be one of Statuses()
//   - Priority must be within [PriorityLowest, PriorityHighest]
//   - DueDate, when set, must be midnight UTC
//   - CreatedAt must be set and UpdatedAt must not precede it
//   - Every time must fall in years 0000 through 9999 (UTC)
//
// NOT validated (business rules owned by the caller):
//   - Name/Details content beyond encoding
//   - Status transitions
func ValidateSnapshot(s *TaskSnapshot) error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrInvalidSnapshot)
	}

	if s.ID == "" || strings.TrimSpace(s.ID) != s.ID {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, ErrEmptyID)
	}

	for _, f := range []struct{ name, text string }{
		{"id", s.ID},
		{"name", s.Name},
		{"details", s.Details},
	} {
		if !utf8.ValidString(f.text) {
			return fmt.Errorf("%w: %w: %s", ErrInvalidSnapshot, ErrInvalidText, f.name)
		}
	}

	if err := ValidateStatus(s.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	if err := ValidatePriority(s.Priority); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	if s.DueDate != nil && !s.DueDate.Equal(DateOf(s.DueDate.UTC())) {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, ErrInvalidDueDate)
	}

	if s.CreatedAt.IsZero() {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, ErrMissingCreatedAt)
	}

	if s.UpdatedAt.Before(s.CreatedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, ErrUpdatedBeforeCreated)
	}

	if err := validateYear("created_at", s.CreatedAt); err != nil {
		return err
	}
	if err := validateYear("updated_at", s.UpdatedAt); err != nil {
		return err
	}
	if s.DueDate != nil {
		if err := validateYear("due_date", *s.DueDate); err != nil {
			return err
		}
	}

	return nil
}

func validateYear(field string, t time.Time) error {
	if y := t.UTC().Year(); y < minYear || y > maxYear {
		return fmt.Errorf("%w: %w: %s year %d", ErrInvalidSnapshot, ErrTimeOutOfRange, field, y)
	}
	return nil
}

// ValidateStatus validates that a Status is one of the known states.
func ValidateStatus(status Status) error {
	switch status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return nil
	}
	return fmt.Errorf("%w: value %q", ErrInvalidStatus, status)
}

// ValidatePriority validates that a Priority is within bounds.
func ValidatePriority(p Priority) error {
	if p < PriorityLowest || p > PriorityHighest {
		return fmt.Errorf("%w: value %d", ErrInvalidPriority, p)
	}
	return nil
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if err := ValidateStatus(status); err != nil {
		return "", err
	}
	return status, nil
}
