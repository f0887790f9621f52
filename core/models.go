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
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

const (
	// TimestampLayout is the persisted form of CreatedAt/UpdatedAt.
	// It is fixed width and always UTC, so lexical order equals time order.
	TimestampLayout = "2006-01-02T15:04:05.000000000Z"

	// DateLayout is the persisted form of DueDate.
	DateLayout = "2006-01-02"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every valid Status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}
}

// Priority ranks a task from PriorityLowest (1) to PriorityHighest (5).
type Priority int

const (
	PriorityLowest  Priority = 1
	PriorityLow     Priority = 2
	PriorityNormal  Priority = 3
	PriorityHigh    Priority = 4
	PriorityHighest Priority = 5
)

// TaskSnapshot is the persisted representation of a task.
// Storage backends copy snapshots on the way in and out; callers own
// every value they receive.
type TaskSnapshot struct {
	ID        string
	Name      string
	Details   string
	Status    Status
	Priority  Priority
	DueDate   *time.Time // Midnight UTC; nil when the task has no due date
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotOption configures a snapshot built by NewSnapshot.
type SnapshotOption func(*TaskSnapshot)

// WithDetails sets the free-form details text.
func WithDetails(details string) SnapshotOption {
	return func(s *TaskSnapshot) {
		s.Details = details
	}
}

// WithStatus sets the initial status.
func WithStatus(status Status) SnapshotOption {
	return func(s *TaskSnapshot) {
		s.Status = status
	}
}

// WithPriority sets the priority.
func WithPriority(p Priority) SnapshotOption {
	return func(s *TaskSnapshot) {
		s.Priority = p
	}
}

// WithDueDate sets the due date, truncated to the calendar day.
func WithDueDate(due time.Time) SnapshotOption {
	return func(s *TaskSnapshot) {
		d := DateOf(due)
		s.DueDate = &d
	}
}

// WithID overrides the generated identifier.
func WithID(id string) SnapshotOption {
	return func(s *TaskSnapshot) {
		s.ID = id
	}
}

// WithCreatedAt sets both CreatedAt and UpdatedAt.
func WithCreatedAt(ts time.Time) SnapshotOption {
	return func(s *TaskSnapshot) {
		s.CreatedAt = ts.UTC()
		s.UpdatedAt = s.CreatedAt
	}
}

// NewSnapshot creates a pending, normal-priority snapshot with a fresh ID
// and CreatedAt == UpdatedAt == now, then applies opts.
func NewSnapshot(name string, opts ...SnapshotOption) *TaskSnapshot {
	now := time.Now().UTC()
	s := &TaskSnapshot{
		ID:        NewTaskID(),
		Name:      name,
		Status:    StatusPending,
		Priority:  PriorityNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTaskID returns a random identifier suitable for TaskSnapshot.ID.
func NewTaskID() string {
	return uuid.NewString()
}

// DateOf returns midnight UTC of t's calendar day (in t's own location).
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Clone returns a deep copy of the snapshot.
func (s *TaskSnapshot) Clone() *TaskSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.DueDate != nil {
		d := *s.DueDate
		c.DueDate = &d
	}
	return &c
}

// Equal reports whether two snapshots hold the same values.
// Times are compared as instants, ignoring location and monotonic readings.
func (s *TaskSnapshot) Equal(o *TaskSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.ID != o.ID || s.Name != o.Name || s.Details != o.Details ||
		s.Status != o.Status || s.Priority != o.Priority {
		return false
	}
	if !s.CreatedAt.Equal(o.CreatedAt) || !s.UpdatedAt.Equal(o.UpdatedAt) {
		return false
	}
	if (s.DueDate == nil) != (o.DueDate == nil) {
		return false
	}
	return s.DueDate == nil || s.DueDate.Equal(*o.DueDate)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string. RFC 3339 input is accepted
// as well so hand-edited documents remain readable.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	t, rfcErr := time.Parse(time.RFC3339Nano, s)
	if rfcErr != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatDate renders a due date in DateLayout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a DateLayout string into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Fingerprint returns a BLAKE2b digest of every persisted field of the
// snapshot. Two snapshots have the same fingerprint iff Equal reports true
// (modulo hash collisions).
func Fingerprint(s *TaskSnapshot) [16]byte {
	h, _ := blake2b.New(16, nil)
	writeField := func(v string) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(v)))
		h.Write(n[:])
		h.Write([]byte(v))
	}
	writeField(s.ID)
	writeField(s.Name)
	writeField(s.Details)
	writeField(string(s.Status))
	writeField(strconv.Itoa(int(s.Priority)))
	if s.DueDate != nil {
		writeField(FormatDate(*s.DueDate))
	} else {
		writeField("")
	}
	writeField(FormatTimestamp(s.CreatedAt))
	writeField(FormatTimestamp(s.UpdatedAt))

	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
