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

import "errors"

// Snapshot validation errors
var (
	// ErrInvalidSnapshot indicates a TaskSnapshot failed validation.
	ErrInvalidSnapshot = errors.New("invalid task snapshot")

	// ErrEmptyID indicates the ID field is empty or padded with whitespace.
	ErrEmptyID = errors.New("task id cannot be empty")

	// ErrInvalidStatus indicates a Status outside the closed set.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidPriority indicates a Priority outside [1, 5].
	ErrInvalidPriority = errors.New("invalid task priority")

	// ErrInvalidDueDate indicates a due date that is not midnight UTC.
	ErrInvalidDueDate = errors.New("due date must be a calendar day")

	// ErrMissingCreatedAt indicates a zero CreatedAt timestamp.
	ErrMissingCreatedAt = errors.New("created_at is required")

	// ErrUpdatedBeforeCreated indicates UpdatedAt precedes CreatedAt.
	ErrUpdatedBeforeCreated = errors.New("updated_at precedes created_at")

	// ErrInvalidText indicates an ID, Name or Details that is not valid UTF-8.
	ErrInvalidText = errors.New("text is not valid UTF-8")

	// ErrTimeOutOfRange indicates a timestamp or due date outside years
	// 0000 through 9999.
	ErrTimeOutOfRange = errors.New("time outside years 0000-9999")
)
