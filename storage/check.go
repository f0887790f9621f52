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


package storage

import (
	"context"
	"fmt"

	"github.com/poiesic/taskvault/core"
)

// ValidateSnapshots checks snapshots before a write. The first invalid
// snapshot is reported as a data error naming its id.
func ValidateSnapshots(backend, op string, snapshots ...*core.TaskSnapshot) error {
	for i, s := range snapshots {
		if s == nil {
			return &Error{
				Kind:    ErrData,
				Op:      op,
				Backend: backend,
				Err:     fmt.Errorf("%w: nil snapshot at index %d", core.ErrInvalidSnapshot, i),
			}
		}
		if err := core.ValidateSnapshot(s); err != nil {
			return &Error{Kind: ErrData, Op: op, Backend: backend, ID: s.ID, Err: err}
		}
	}
	return nil
}

// CheckContext reports a done context as a conflict: the operation gave up
// before it could take effect.
func CheckContext(ctx context.Context, backend, op string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: ErrConflict, Op: op, Backend: backend, Err: err}
	}
	return nil
}

// Closed returns the error reported by operations on a closed repository.
func Closed(backend, op string) error {
	return &Error{Kind: ErrConfiguration, Op: op, Backend: backend, Err: ErrClosed}
}
