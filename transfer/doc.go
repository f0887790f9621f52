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


// Package transfer moves task snapshots between repositories and checks
// that two repositories hold the same data.
//
// Copy reads every snapshot from a source repository and writes it to a
// destination, batching writes across a goroutine pool:
//
//	report, err := transfer.Copy(ctx, jsonRepo, sqliteRepo,
//	    transfer.WithBatchSize(200),
//	    transfer.WithProgress(os.Stderr),
//	)
//
// Diff compares two repositories by task id and content fingerprint.
package transfer
