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


package docstore

import (
	"errors"
	"syscall"

	"github.com/poiesic/taskvault/storage"
)

// Classify maps a filesystem error to a storage error kind.
// Exhausted or failing media is a data error: the document could not be
// written but the location is sound. Everything else (permissions,
// read-only mounts, missing or non-directory parents) makes the location
// unusable and is a configuration error.
func Classify(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EIO),
		errors.Is(err, syscall.EFBIG):
		return storage.ErrData
	default:
		return storage.ErrConfiguration
	}
}
