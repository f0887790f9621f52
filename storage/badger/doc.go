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


// Package badger implements storage.Repository on an embedded BadgerDB
// key-value store.
//
// Each task is stored under "task:<id>" as a mus-encoded snapshot, and a
// "tstat:<status>:<id>" key indexes it by status. The database is opened on
// the first operation.
//
// # Transaction size
//
// SaveTasks and ReplaceAll write in a single transaction, and badger caps a
// transaction's size at a fraction of MemTableSize (15% of 64 MiB with the
// default options). Writes beyond the cap fail with a data error wrapping
// badger.ErrTxnTooBig and leave the store unchanged. Callers moving large
// sets should batch through SaveTasks (as transfer.Copy does) or raise
// MemTableSize with WithBackendOptions.
package badger
