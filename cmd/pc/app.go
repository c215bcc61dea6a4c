package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/assign"
	"github.com/daviddao/pathclock/pkg/config"
	"github.com/daviddao/pathclock/pkg/deploy"
	"github.com/daviddao/pathclock/pkg/graph"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/store"
)

// app holds shared state for all CLI subcommands.
type app struct {
	store store.StoreInterface
	cfg   config.Config
	log   *slog.Logger
	// snapshots holds the path assignments of the deployment last planned
	// or loaded; simulate builds shard states from it.
	snapshots assign.Registry
}

// newApp reads the environment and opens the database. Creates the
// .pathclock/ directory if using the default DB path.
func newApp() (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.DB == config.DefaultDB {
		if err := os.MkdirAll(config.DefaultDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "cannot create %s", config.DefaultDir)
		}
	}
	s, err := store.New(cfg.DB)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open database %q", cfg.DB)
	}
	return &app{
		store: s,
		cfg:   cfg,
		log:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})),
	}, nil
}

// Close releases the database connection.
func (a *app) Close() { a.store.Close() }

// loadDeployment returns deployment id, or the latest one for id 0.
func (a *app) loadDeployment(id int64) (*deploy.Deployment, error) {
	if id == 0 {
		return a.store.LatestDeployment()
	}
	return a.store.LoadDeployment(id)
}

// parseShardRef resolves "name/shard" (or "name" for shard 0) against g.
func parseShardRef(g *graph.Graph, ref string) (model.ShardKey, error) {
	name, shardStr, hasShard := strings.Cut(ref, "/")
	idx, ok := g.Lookup(name)
	if !ok {
		return model.ShardKey{}, errors.Newf("unknown node %q", name)
	}
	shard := 0
	if hasShard {
		n, err := strconv.Atoi(shardStr)
		if err != nil {
			return model.ShardKey{}, errors.Newf("bad shard in %q", ref)
		}
		shard = n
	}
	if shard < 0 || shard >= g.Node(idx).Shards {
		return model.ShardKey{}, errors.Newf("%s has %d shard(s), no shard %d", name, g.Node(idx).Shards, shard)
	}
	return model.ShardKey{Node: idx, Shard: shard}, nil
}

// shardName renders a shard key with the node's name.
func shardName(g *graph.Graph, k model.ShardKey) string {
	if int(k.Node) >= g.Len() {
		return k.String()
	}
	return fmt.Sprintf("%s/%d", g.Node(k.Node).Name, k.Shard)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
