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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/taskvault"
	"github.com/poiesic/taskvault/config"
	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/storage"
	"github.com/poiesic/taskvault/storage/backends"
	"github.com/poiesic/taskvault/transfer"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "taskvault",
		Usage:     "Store and query tasks in JSON, SQLite or Badger storage",
		Writer:    stdout,
		ErrWriter: stderr,
		Metadata:  map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or JSON config file",
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "Storage backend (json, sqlite, badger)",
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "Storage location",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "backends",
				Usage:  "List registered storage backends",
				Action: backendsCommand,
			},
			{
				Name:   "init",
				Usage:  "Create the configured storage if it does not exist",
				Action: initCommand,
			},
			{
				Name:      "add",
				Usage:     "Add a task",
				ArgsUsage: "NAME",
				Action:    addCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Task id (generated when empty)"},
					&cli.StringFlag{Name: "details", Aliases: []string{"d"}, Usage: "Task details"},
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Initial status", Value: string(core.StatusPending)},
					&cli.IntFlag{Name: "priority", Usage: "Priority from 1 (lowest) to 5 (highest)", Value: int(core.PriorityNormal)},
					&cli.StringFlag{Name: "due", Usage: "Due date (YYYY-MM-DD)"},
				},
			},
			{
				Name:      "update",
				Usage:     "Change fields of an existing task",
				ArgsUsage: "ID",
				Action:    updateCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "New name"},
					&cli.StringFlag{Name: "details", Aliases: []string{"d"}, Usage: "New details"},
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "New status"},
					&cli.IntFlag{Name: "priority", Usage: "New priority"},
					&cli.StringFlag{Name: "due", Usage: "New due date (YYYY-MM-DD, empty string clears it)"},
				},
			},
			{
				Name:      "get",
				Usage:     "Print one task",
				ArgsUsage: "ID",
				Action:    getCommand,
			},
			{
				Name:   "list",
				Usage:  "Print tasks matching every given filter, oldest first",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Aliases: []string{"s"}, Usage: "Keep tasks with this status (repeatable)"},
					&cli.StringFlag{Name: "after", Usage: "Keep tasks created strictly after this time (RFC 3339 or YYYY-MM-DD)"},
					&cli.StringFlag{Name: "before", Usage: "Keep tasks created strictly before this time (RFC 3339 or YYYY-MM-DD)"},
					&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Keep tasks whose name or details contain this text, ignoring case"},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a task",
				ArgsUsage: "ID",
				Action:    deleteCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Copy every task into another backend",
				Action: migrateCommand,
				Flags: append(targetFlags("to"),
					&cli.BoolFlag{Name: "replace", Usage: "Make the target hold exactly the source's tasks"},
					&cli.IntFlag{Name: "pool-size", Usage: "Number of concurrent batch writers", Value: 4},
					&cli.IntFlag{Name: "batch-size", Usage: "Number of tasks per write", Value: 100},
					&cli.BoolFlag{Name: "progress", Usage: "Report progress on stderr"},
				),
			},
			{
				Name:   "diff",
				Usage:  "Compare the configured storage with another one",
				Action: diffCommand,
				Flags:  targetFlags("other"),
			},
		},
	}
}

func targetFlags(prefix string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     prefix + "-backend",
			Usage:    "Backend of the other storage",
			Required: true,
		},
		&cli.StringFlag{
			Name:     prefix + "-path",
			Usage:    "Location of the other storage",
			Required: true,
		},
	}
}

// setup loads configuration, applies global flag overrides and installs the
// default logger.
func setup(c *cli.Context) error {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
		if err == nil {
			config.ApplyEnv(cfg)
		}
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("path") {
		cfg.Path = c.String("path")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", cfg.LogLevel)
	}
	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	cfg, _ := c.App.Metadata[configKey].(*config.Config)
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return cfg
}

func openRepository(ctx context.Context, c *cli.Context) (storage.Repository, error) {
	repo, err := taskvault.Open(ctx, configFrom(c))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return repo, nil
}

// openTarget opens a second repository configured like the first except for
// its backend and location.
func openTarget(ctx context.Context, c *cli.Context, prefix string) (storage.Repository, error) {
	cfg := *configFrom(c)
	cfg.Backend = c.String(prefix + "-backend")
	cfg.Path = c.String(prefix + "-path")
	repo, err := taskvault.Open(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", prefix, err)
	}
	return repo, nil
}

func backendsCommand(c *cli.Context) error {
	out := json.NewEncoder(c.App.Writer)
	for _, name := range backends.NewRegistry(configFrom(c)).Backends() {
		if err := out.Encode(map[string]string{"backend": name}); err != nil {
			return err
		}
	}
	return nil
}

func initCommand(c *cli.Context) error {
	repo, err := openRepository(c.Context, c)
	if err != nil {
		return err
	}
	defer repo.Close()

	cfg := configFrom(c)
	return json.NewEncoder(c.App.Writer).Encode(map[string]string{
		"backend": cfg.Backend,
		"path":    cfg.Path,
	})
}

func addCommand(c *cli.Context) error {
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return errors.New("task name is required")
	}

	status, err := core.ParseStatus(c.String("status"))
	if err != nil {
		return err
	}
	opts := []core.SnapshotOption{
		core.WithDetails(c.String("details")),
		core.WithStatus(status),
		core.WithPriority(core.Priority(c.Int("priority"))),
	}
	if id := c.String("id"); id != "" {
		opts = append(opts, core.WithID(id))
	}
	if due := c.String("due"); due != "" {
		d, err := core.ParseDate(due)
		if err != nil {
			return fmt.Errorf("invalid due date %q: %w", due, err)
		}
		opts = append(opts, core.WithDueDate(d))
	}
	task := core.NewSnapshot(name, opts...)

	repo, err := openRepository(c.Context, c)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.SaveTask(c.Context, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return writeTasks(c.App.Writer, task)
}

func updateCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("task id is required")
	}

	repo, err := openRepository(c.Context, c)
	if err != nil {
		return err
	}
	defer repo.Close()

	task, err := repo.GetTask(c.Context, id)
	if err != nil {
		return err
	}
	if task == nil {
		return cli.Exit(fmt.Sprintf("task %q not found", id), 1)
	}

	if c.IsSet("name") {
		task.Name = c.String("name")
	}
	if c.IsSet("details") {
		task.Details = c.String("details")
	}
	if c.IsSet("status") {
		if task.Status, err = core.ParseStatus(c.String("status")); err != nil {
			return err
		}
	}
	if c.IsSet("priority") {
		task.Priority = core.Priority(c.Int("priority"))
	}
	if c.IsSet("due") {
		task.DueDate = nil
		if due := c.String("due"); due != "" {
			d, err := core.ParseDate(due)
			if err != nil {
				return fmt.Errorf("invalid due date %q: %w", due, err)
			}
			task.DueDate = &d
		}
	}
	task.UpdatedAt = time.Now().UTC()

	if err := repo.SaveTask(c.Context, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return writeTasks(c.App.Writer, task)
}

func getCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("task id is required")
	}

	repo, err := openRepository(c.Context, c)
	if err != nil {
		return err
	}
	defer repo.Close()

	task, err := repo.GetTask(c.Context, id)
	if err != nil {
		return err
	}
	if task == nil {
		return cli.Exit(fmt.Sprintf("task %q not found", id), 1)
	}
	return writeTasks(c.App.Writer, task)
}

func listCommand(c *cli.Context) error {
	filter, err := filterFromFlags(c)
	if err != nil {
		return err
	}

	repo, err := openRepository(c.Context, c)
	if err != nil {
		return err
	}
	defer repo.Close()

	tasks, err := repo.FindTasks(c.Context, filter)
	if err != nil {
		return err
	}
	return writeTasks(c.App.Writer, tasks...)
}

func filterFromFlags(c *cli.Context) (core.TaskFilter, error) {
	var filter core.TaskFilter
	for _, s := range c.StringSlice("status") {
		status, err := core.ParseStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if v := c.String("after"); v != "" {
		t, err := parseInstant(v)
		if err != nil {
			return filter, fmt.Errorf("invalid --after: %w", err)
		}
		filter.CreatedAfter = &t
	}
	if v := c.String("before"); v != "" {
		t, err := parseInstant(v)
		if err != nil {
			return filter, fmt.Errorf("invalid --before: %w", err)
		}
		filter.CreatedBefore = &t
	}
	filter.Text = c.String("text")
	return filter, nil
}

// parseInstant accepts a timestamp or a bare date, read as midnight UTC.
func parseInstant(v string) (time.Time, error) {
	if t, err := core.ParseTimestamp(v); err == nil {
		return t, nil
	}
	return core.ParseDate(v)
}

func deleteCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("task id is required")
	}

	repo, err := openRepository(c.Context, c)
	if err != nil {
		return err
	}
	defer repo.Close()

	deleted, err := repo.DeleteTask(c.Context, id)
	if err != nil {
		return err
	}
	return json.NewEncoder(c.App.Writer).Encode(map[string]any{"id": id, "deleted": deleted})
}

func migrateCommand(c *cli.Context) error {
	ctx := c.Context

	src, err := openRepository(ctx, c)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := openTarget(ctx, c, "to")
	if err != nil {
		return err
	}
	defer dst.Close()

	opts := []transfer.Option{
		transfer.WithPoolSize(c.Int("pool-size")),
		transfer.WithBatchSize(c.Int("batch-size")),
	}
	if c.Bool("replace") {
		opts = append(opts, transfer.WithReplace())
	}
	if c.Bool("progress") {
		opts = append(opts, transfer.WithProgress(c.App.ErrWriter))
	}

	report, err := transfer.Copy(ctx, src, dst, opts...)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return json.NewEncoder(c.App.Writer).Encode(report)
}

func diffCommand(c *cli.Context) error {
	ctx := c.Context

	a, err := openRepository(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := openTarget(ctx, c, "other")
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := transfer.Diff(ctx, a, b)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(c.App.Writer).Encode(report); err != nil {
		return err
	}
	if !report.Equal() {
		return cli.Exit("", 1)
	}
	return nil
}
