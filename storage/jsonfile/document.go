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


package jsonfile

import (
	"encoding/json"
	"fmt"

	"github.com/poiesic/taskvault/core"
)

// documentVersion is written to every document this package saves.
const documentVersion = 1

// document is the on-disk shape. Entries stay raw so that one malformed
// entry neither blocks reads of the others nor is lost on the next save.
type document struct {
	Version int                        `json:"version"`
	Tasks   map[string]json.RawMessage `json:"tasks"`
}

func newDocument() document {
	return document{Version: documentVersion, Tasks: make(map[string]json.RawMessage)}
}

// record is the persisted form of one snapshot: plain strings and ints,
// cheap to decode and to test against a filter.
type record struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Details   string  `json:"details"`
	Status    string  `json:"status"`
	Priority  int     `json:"priority"`
	DueDate   *string `json:"due_date"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func recordOf(s *core.TaskSnapshot) record {
	r := record{
		ID:        s.ID,
		Name:      s.Name,
		Details:   s.Details,
		Status:    string(s.Status),
		Priority:  int(s.Priority),
		CreatedAt: core.FormatTimestamp(s.CreatedAt),
		UpdatedAt: core.FormatTimestamp(s.UpdatedAt),
	}
	if s.DueDate != nil {
		due := core.FormatDate(*s.DueDate)
		r.DueDate = &due
	}
	return r
}

func encodeRecord(s *core.TaskSnapshot) (json.RawMessage, error) {
	return json.Marshal(recordOf(s))
}

// decodeRecord parses a raw entry and checks that it is stored under its
// own id.
func decodeRecord(key string, raw json.RawMessage) (record, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode entry: %w", err)
	}
	if r.ID != key {
		return r, fmt.Errorf("entry id %q does not match key", r.ID)
	}
	return r, nil
}

// matches evaluates filter against the raw record. created_at is only
// parsed when the filter has time bounds.
func (r record) matches(f core.TaskFilter) (bool, error) {
	if !f.MatchStatus(core.Status(r.Status)) {
		return false, nil
	}
	if !f.MatchText(r.Name, r.Details) {
		return false, nil
	}
	if f.HasCreatedBounds() {
		created, err := core.ParseTimestamp(r.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("created_at: %w", err)
		}
		if !f.MatchCreated(created) {
			return false, nil
		}
	}
	return true, nil
}

// snapshot converts the record to a validated snapshot.
func (r record) snapshot() (*core.TaskSnapshot, error) {
	created, err := core.ParseTimestamp(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	updated, err := core.ParseTimestamp(r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	s := &core.TaskSnapshot{
		ID:        r.ID,
		Name:      r.Name,
		Details:   r.Details,
		Status:    core.Status(r.Status),
		Priority:  core.Priority(r.Priority),
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if r.DueDate != nil {
		due, err := core.ParseDate(*r.DueDate)
		if err != nil {
			return nil, fmt.Errorf("due_date: %w", err)
		}
		s.DueDate = &due
	}
	if err := core.ValidateSnapshot(s); err != nil {
		return nil, err
	}
	return s, nil
}
