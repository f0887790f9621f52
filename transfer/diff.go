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


package transfer

import (
	"context"
	"fmt"
	"slices"

	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/storage"
)

// DiffReport lists how repository b differs from repository a.
// Id lists are sorted.
type DiffReport struct {
	// Missing holds ids present in a but not in b.
	Missing []string `json:"missing"`

	// Extra holds ids present in b but not in a.
	Extra []string `json:"extra"`

	// Changed holds ids present in both whose contents differ.
	Changed []string `json:"changed"`

	// Same counts ids present in both with identical contents.
	Same int `json:"same"`
}

// Equal reports whether the repositories hold the same snapshots.
func (d *DiffReport) Equal() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Changed) == 0
}

// Diff compares the snapshots of a and b by id and content fingerprint.
// Malformed entries are invisible to it, as they are to GetAllTasks.
func Diff(ctx context.Context, a, b storage.Repository) (*DiffReport, error) {
	left, err := fingerprints(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to read first repository: %w", err)
	}
	right, err := fingerprints(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to read second repository: %w", err)
	}

	report := &DiffReport{}
	for id, sum := range left {
		other, ok := right[id]
		switch {
		case !ok:
			report.Missing = append(report.Missing, id)
		case other != sum:
			report.Changed = append(report.Changed, id)
		default:
			report.Same++
		}
	}
	for id := range right {
		if _, ok := left[id]; !ok {
			report.Extra = append(report.Extra, id)
		}
	}

	slices.Sort(report.Missing)
	slices.Sort(report.Extra)
	slices.Sort(report.Changed)
	return report, nil
}

func fingerprints(ctx context.Context, repo storage.Repository) (map[string][16]byte, error) {
	snapshots, err := repo.GetAllTasks(ctx)
	if err != nil {
		return nil, err
	}
	sums := make(map[string][16]byte, len(snapshots))
	for _, s := range snapshots {
		sums[s.ID] = core.Fingerprint(s)
	}
	return sums, nil
}
