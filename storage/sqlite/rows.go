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


package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/poiesic/taskvault/core"
)

const taskColumns = `id, name, details, status, priority, due_date, created_at, updated_at`

const upsertTaskSQL = `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		details = excluded.details,
		status = excluded.status,
		priority = excluded.priority,
		due_date = excluded.due_date,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`

// taskRow receives one row of taskColumns. Every column is scanned as
// nullable text so that a damaged row surfaces in toDomain rather than as
// a scan failure that aborts the whole result set.
type taskRow struct {
	id        sql.NullString
	name      sql.NullString
	details   sql.NullString
	status    sql.NullString
	priority  sql.NullString
	dueDate   sql.NullString
	createdAt sql.NullString
	updatedAt sql.NullString
}

func (r *taskRow) scanArgs() []any {
	return []any{&r.id, &r.name, &r.details, &r.status, &r.priority, &r.dueDate, &r.createdAt, &r.updatedAt}
}

func (r *taskRow) toDomain() (*core.TaskSnapshot, error) {
	priority, err := strconv.Atoi(r.priority.String)
	if err != nil {
		return nil, fmt.Errorf("priority: %w", err)
	}
	created, err := core.ParseTimestamp(r.createdAt.String)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	updated, err := core.ParseTimestamp(r.updatedAt.String)
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}

	s := &core.TaskSnapshot{
		ID:        r.id.String,
		Name:      nullToString(r.name),
		Details:   nullToString(r.details),
		Status:    core.Status(r.status.String),
		Priority:  core.Priority(priority),
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if r.dueDate.Valid {
		due, err := core.ParseDate(r.dueDate.String)
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

// rowArgs returns the insert arguments for s in taskColumns order.
func rowArgs(s *core.TaskSnapshot) []any {
	return []any{
		s.ID,
		s.Name,
		s.Details,
		string(s.Status),
		int(s.Priority),
		dateToNull(s.DueDate),
		core.FormatTimestamp(s.CreatedAt),
		core.FormatTimestamp(s.UpdatedAt),
	}
}

func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func dateToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: core.FormatDate(*t), Valid: true}
}
