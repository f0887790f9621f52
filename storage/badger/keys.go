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


package badger

import (
	"strings"

	"github.com/poiesic/taskvault/core"
)

// Key prefixes for different data types
const (
	taskPrefix        = "task:"
	statusIndexPrefix = "tstat:"
)

// makeTaskKey generates the primary key of a snapshot.
// Format: task:id
func makeTaskKey(id string) []byte {
	return []byte(taskPrefix + id)
}

// makeStatusKey generates a key for the status index.
// Format: tstat:status:id
func makeStatusKey(status core.Status, id string) []byte {
	return []byte(statusIndexPrefix + string(status) + ":" + id)
}

// makePartialStatusKey generates the prefix of every index key for status.
// Format: tstat:status:
func makePartialStatusKey(status core.Status) []byte {
	return []byte(statusIndexPrefix + string(status) + ":")
}

// taskIDFromKey extracts the id from a primary or status index key.
func taskIDFromKey(key, prefix []byte) string {
	return strings.TrimPrefix(string(key), string(prefix))
}
