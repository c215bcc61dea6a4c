// Package config reads pathclock settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/placement"
)

const (
	DefaultDir = ".pathclock"
	DefaultDB  = DefaultDir + "/pathclock.db"
)

// Config holds the settings shared by every pc command. Command flags
// override individual fields.
type Config struct {
	DB        string
	LogLevel  slog.Level
	Placement placement.Policy
	Workers   []model.WorkerID
	MaxPaths  int
	Inbox     int
}

// FromEnv reads the PATHCLOCK_* variables, falling back to defaults for
// unset or empty ones.
func FromEnv() (Config, error) {
	c := Config{
		DB:        EnvOr("PATHCLOCK_DB", DefaultDB),
		Placement: placement.Policy(EnvOr("PATHCLOCK_PLACEMENT", string(placement.PolicyRoundRobin))),
	}
	if err := c.LogLevel.UnmarshalText([]byte(EnvOr("PATHCLOCK_LOG_LEVEL", "warn"))); err != nil {
		return Config{}, errors.Wrap(err, "PATHCLOCK_LOG_LEVEL")
	}
	workers, err := ParseWorkers(os.Getenv("PATHCLOCK_WORKERS"))
	if err != nil {
		return Config{}, errors.Wrap(err, "PATHCLOCK_WORKERS")
	}
	c.Workers = workers
	if c.MaxPaths, err = envInt("PATHCLOCK_MAX_PATHS", 0); err != nil {
		return Config{}, err
	}
	if c.Inbox, err = envInt("PATHCLOCK_INBOX", 64); err != nil {
		return Config{}, err
	}
	if _, err := placement.New(c.Placement, nil); err != nil {
		return Config{}, errors.Wrap(err, "PATHCLOCK_PLACEMENT")
	}
	return c, nil
}

// ParseWorkers parses a comma-separated list of worker ids. A bare number
// n asks for n generated ids.
func ParseWorkers(s string) ([]model.WorkerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return nil, errors.Newf("worker count %d < 1", n)
		}
		return placement.NewWorkerIDs(n), nil
	}
	seen := make(map[model.WorkerID]bool)
	var out []model.WorkerID
	for _, part := range strings.Split(s, ",") {
		id := model.WorkerID(strings.TrimSpace(part))
		if id == "" {
			continue
		}
		if seen[id] {
			return nil, errors.Newf("duplicate worker %q", id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// EnvOr returns the value of key, or def when it is unset or empty.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Newf("%s: want a non-negative integer, got %q", key, v)
	}
	return n, nil
}
