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


package storagetest

import (
	"context"
	"encoding/hex"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Script generates a deterministic sequence of snapshots for parity runs.
// The same seed always yields the same tasks.
func Script(seed uint64, n int) []*core.TaskSnapshot {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	words := []string{"deploy", "Review", "FIX", "login", "docs", "Über", "api", "cache", "release", "audit"}
	statuses := core.Statuses()

	tasks := make([]*core.TaskSnapshot, n)
	for i := range tasks {
		name := words[rng.IntN(len(words))] + " " + words[rng.IntN(len(words))]
		opts := []core.SnapshotOption{
			core.WithStatus(statuses[rng.IntN(len(statuses))]),
			core.WithPriority(core.Priority(1 + rng.IntN(5))),
		}
		if rng.IntN(2) == 0 {
			opts = append(opts, core.WithDetails("notes about "+words[rng.IntN(len(words))]))
		}
		if rng.IntN(3) == 0 {
			opts = append(opts, core.WithDueDate(Epoch.AddDate(0, 0, rng.IntN(60))))
		}
		// Collisions on creation minute exercise the id tie-break.
		tasks[i] = Task(fmt.Sprintf("task-%03d", i), name, rng.IntN(n), opts...)
		tasks[i].UpdatedAt = tasks[i].CreatedAt.Add(time.Duration(rng.IntN(1000)) * time.Second)
	}
	return tasks
}

// observation is one recorded read result.
type observation struct {
	Step   string
	Result []string
}

func fingerprints(snaps []*core.TaskSnapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		fp := core.Fingerprint(s)
		out[i] = s.ID + ":" + hex.EncodeToString(fp[:])
	}
	return out
}

// runScript applies the parity script to repo and records every read.
func runScript(t *testing.T, repo storage.Repository, seed uint64) []observation {
	t.Helper()
	ctx := context.Background()
	tasks := Script(seed, 40)
	var obs []observation

	read := func(step string, snaps []*core.TaskSnapshot, err error) {
		require.NoError(t, err, step)
		obs = append(obs, observation{Step: step, Result: fingerprints(snaps)})
	}
	readOne := func(step string, s *core.TaskSnapshot, err error) {
		require.NoError(t, err, step)
		if s == nil {
			obs = append(obs, observation{Step: step})
			return
		}
		read(step, []*core.TaskSnapshot{s}, nil)
	}

	for _, s := range tasks[:20] {
		require.NoError(t, repo.SaveTask(ctx, s))
	}
	require.NoError(t, repo.SaveTasks(ctx, tasks[20:]...))

	all, err := repo.GetAllTasks(ctx)
	read("all after insert", all, err)

	for i := 0; i < len(tasks); i += 7 {
		updated := tasks[i].Clone()
		updated.Status = core.StatusCompleted
		updated.Name = "updated " + updated.Name
		updated.UpdatedAt = updated.UpdatedAt.Add(time.Hour)
		require.NoError(t, repo.SaveTask(ctx, updated))
	}
	for i := 3; i < len(tasks); i += 9 {
		deleted, err := repo.DeleteTask(ctx, tasks[i].ID)
		require.NoError(t, err)
		obs = append(obs, observation{Step: "delete " + tasks[i].ID, Result: []string{fmt.Sprint(deleted)}})
	}
	deleted, err := repo.DeleteTask(ctx, tasks[3].ID)
	require.NoError(t, err)
	obs = append(obs, observation{Step: "delete again", Result: []string{fmt.Sprint(deleted)}})

	all, err = repo.GetAllTasks(ctx)
	read("all after updates", all, err)

	for _, status := range core.Statuses() {
		snaps, err := repo.GetTasksByStatus(ctx, status)
		read("status "+string(status), snaps, err)
	}

	after, before := Epoch.Add(5*time.Minute), Epoch.Add(30*time.Minute)
	filters := map[string]core.TaskFilter{
		"text login":       core.Containing("LOGIN"),
		"text über":        core.Containing("über"),
		"text notes":       core.Containing("notes about"),
		"window":           core.CreatedBetween(after, before),
		"pending+active":   core.ByStatus(core.StatusPending, core.StatusInProgress),
		"combined":         {Statuses: []core.Status{core.StatusCompleted}, CreatedAfter: &after, Text: "e"},
		"no match":         core.Containing("zzz-not-present"),
		"empty":            {},
		"after only":       {CreatedAfter: &before},
		"before only":      {CreatedBefore: &after},
		"status+text miss": {Statuses: []core.Status{core.StatusCancelled}, Text: "deploy deploy deploy"},
	}
	for _, name := range slices.Sorted(maps.Keys(filters)) {
		snaps, err := repo.FindTasks(ctx, filters[name])
		read("find "+name, snaps, err)
	}

	for _, id := range []string{tasks[0].ID, tasks[3].ID, "absent"} {
		s, err := repo.GetTask(ctx, id)
		readOne("get "+id, s, err)
		exists, err := repo.TaskExists(ctx, id)
		require.NoError(t, err)
		obs = append(obs, observation{Step: "exists " + id, Result: []string{fmt.Sprint(exists)}})
	}

	require.NoError(t, repo.ReplaceAll(ctx, tasks[10:15]))
	all, err = repo.GetAllTasks(ctx)
	read("all after replace", all, err)

	return obs
}

// RunParity runs the same operation script against every backend and
// asserts that all of them observe identical results.
func RunParity(t *testing.T, backends ...Backend) {
	require.GreaterOrEqual(t, len(backends), 2, "parity needs at least two backends")

	for _, seed := range []uint64{1, 42, 2025} {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			results := make([][]observation, len(backends))
			for i, b := range backends {
				results[i] = runScript(t, OpenFresh(t, b), seed)
			}
			for i := 1; i < len(backends); i++ {
				assert.Equal(t, results[0], results[i], "%s and %s diverge", backends[0].Name, backends[i].Name)
			}
		})
	}
}
