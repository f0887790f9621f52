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
	"slices"
	"strings"
	"time"
)

// TaskFilter is a conjunctive predicate over snapshots.
// A nil or empty field places no constraint on that dimension, so the zero
// TaskFilter matches every snapshot.
type TaskFilter struct {
	// Statuses restricts results to snapshots whose status is in the set.
	Statuses []Status

	// CreatedAfter keeps snapshots created strictly after this instant.
	CreatedAfter *time.Time

	// CreatedBefore keeps snapshots created strictly before this instant.
	CreatedBefore *time.Time

	// Text keeps snapshots whose name or details contain it, ignoring case.
	Text string
}

// ByStatus returns a filter matching any of the given statuses.
func ByStatus(statuses ...Status) TaskFilter {
	return TaskFilter{Statuses: statuses}
}

// CreatedBetween returns a filter on the open interval (after, before).
// A zero bound is left unset.
func CreatedBetween(after, before time.Time) TaskFilter {
	var f TaskFilter
	if !after.IsZero() {
		a := after
		f.CreatedAfter = &a
	}
	if !before.IsZero() {
		b := before
		f.CreatedBefore = &b
	}
	return f
}

// Containing returns a case-insensitive substring filter on name/details.
func Containing(text string) TaskFilter {
	return TaskFilter{Text: text}
}

// HasStatus reports whether the filter constrains status.
func (f TaskFilter) HasStatus() bool { return len(f.Statuses) > 0 }

// HasCreatedBounds reports whether the filter constrains creation time.
func (f TaskFilter) HasCreatedBounds() bool {
	return f.CreatedAfter != nil || f.CreatedBefore != nil
}

// HasText reports whether the filter constrains name/details.
func (f TaskFilter) HasText() bool { return f.Text != "" }

// IsEmpty reports whether the filter matches everything.
func (f TaskFilter) IsEmpty() bool {
	return !f.HasStatus() && !f.HasCreatedBounds() && !f.HasText()
}

// MatchStatus applies the status predicate.
func (f TaskFilter) MatchStatus(status Status) bool {
	return !f.HasStatus() || slices.Contains(f.Statuses, status)
}

// MatchCreated applies the creation-time bounds.
func (f TaskFilter) MatchCreated(createdAt time.Time) bool {
	if f.CreatedAfter != nil && !createdAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !createdAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// MatchText applies the text predicate to name and details.
func (f TaskFilter) MatchText(name, details string) bool {
	if !f.HasText() {
		return true
	}
	needle := FoldText(f.Text)
	return strings.Contains(FoldText(name), needle) || strings.Contains(FoldText(details), needle)
}

// Matches reports whether s satisfies every predicate in the filter.
// Backends must return exactly the snapshots for which Matches is true.
func (f TaskFilter) Matches(s *TaskSnapshot) bool {
	if s == nil {
		return false
	}
	return f.MatchStatus(s.Status) && f.MatchCreated(s.CreatedAt) && f.MatchText(s.Name, s.Details)
}

// FoldText is the case folding used by text matching. Backends that push
// text search into their engine must apply the same function.
func FoldText(s string) string {
	return strings.ToLower(s)
}

// SortSnapshots orders snapshots by CreatedAt, then ID.
func SortSnapshots(snaps []*TaskSnapshot) {
	slices.SortFunc(snaps, func(a, b *TaskSnapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
