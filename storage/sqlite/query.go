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
	"slices"
	"strings"

	"github.com/poiesic/taskvault/core"
)

// compileFilter translates filter into a WHERE clause (with leading space)
// and its arguments. An empty filter yields an empty clause.
//
// Status sets become an IN list over idx_tasks_status and creation bounds
// become range comparisons over idx_tasks_created_at; the fixed-width
// timestamp encoding makes text comparison chronological. Text is matched
// with instr on folded columns, so LIKE wildcards in the needle have no
// special meaning.
func compileFilter(filter core.TaskFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if filter.HasStatus() {
		statuses := slices.Clone(filter.Statuses)
		slices.Sort(statuses)
		statuses = slices.Compact(statuses)

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
		clauses = append(clauses, "status IN ("+placeholders+")")
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}

	if filter.CreatedAfter != nil {
		clauses = append(clauses, "created_at > ?")
		args = append(args, core.FormatTimestamp(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, core.FormatTimestamp(*filter.CreatedBefore))
	}

	if filter.HasText() {
		needle := core.FoldText(filter.Text)
		clauses = append(clauses, "(instr(fold(name), ?) > 0 OR instr(fold(details), ?) > 0)")
		args = append(args, needle, needle)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
