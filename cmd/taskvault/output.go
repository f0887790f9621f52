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


package main

import (
	"encoding/json"
	"io"

	"github.com/poiesic/taskvault/core"
)

// taskView is the JSON line printed for a task.
type taskView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Details   string `json:"details,omitempty"`
	Status    string `json:"status"`
	Priority  int    `json:"priority"`
	DueDate   string `json:"due_date,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func viewOf(s *core.TaskSnapshot) taskView {
	v := taskView{
		ID:        s.ID,
		Name:      s.Name,
		Details:   s.Details,
		Status:    string(s.Status),
		Priority:  int(s.Priority),
		CreatedAt: core.FormatTimestamp(s.CreatedAt),
		UpdatedAt: core.FormatTimestamp(s.UpdatedAt),
	}
	if s.DueDate != nil {
		v.DueDate = core.FormatDate(*s.DueDate)
	}
	return v
}

func writeTasks(w io.Writer, tasks ...*core.TaskSnapshot) error {
	enc := json.NewEncoder(w)
	for _, t := range tasks {
		if err := enc.Encode(viewOf(t)); err != nil {
			return err
		}
	}
	return nil
}
