// Package store persists deployments in SQLite.
//
// A deployment is saved whole, in one transaction: the graph description,
// every (node, shard)'s inputs, path map, routes and base groups, and the
// placement of every (domain, shard). Loading rebuilds the path assignment
// snapshot through assign.Restore, which validates it again.
package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/assign"
	"github.com/daviddao/pathclock/pkg/deploy"
	"github.com/daviddao/pathclock/pkg/graph"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/nodetime"
	"github.com/daviddao/pathclock/pkg/pathmap"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a deployment does not exist.
var ErrNotFound = errors.New("deployment not found")

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployments (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		graph      TEXT NOT NULL,
		nodes      INTEGER NOT NULL,
		shards     INTEGER NOT NULL,
		max_slots  INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shards (
		deployment_id INTEGER NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
		node          INTEGER NOT NULL,
		shard         INTEGER NOT NULL,
		identity      INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (deployment_id, node, shard)
	);

	CREATE TABLE IF NOT EXISTS inputs (
		deployment_id INTEGER NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
		node          INTEGER NOT NULL,
		shard         INTEGER NOT NULL,
		ordinal       INTEGER NOT NULL,
		from_node     INTEGER NOT NULL,
		from_shard    INTEGER NOT NULL,
		width         INTEGER NOT NULL,
		PRIMARY KEY (deployment_id, node, shard, ordinal)
	);

	CREATE TABLE IF NOT EXISTS path_maps (
		deployment_id INTEGER NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
		node          INTEGER NOT NULL,
		shard         INTEGER NOT NULL,
		ancestor      INTEGER NOT NULL,
		incoming      INTEGER NOT NULL,
		outgoing      INTEGER NOT NULL,
		PRIMARY KEY (deployment_id, node, shard, ancestor, incoming)
	);

	CREATE TABLE IF NOT EXISTS routes (
		deployment_id INTEGER NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
		node          INTEGER NOT NULL,
		shard         INTEGER NOT NULL,
		path          INTEGER NOT NULL,
		origin_node   INTEGER NOT NULL,
		origin_shard  INTEGER NOT NULL,
		PRIMARY KEY (deployment_id, node, shard, path)
	);

	CREATE TABLE IF NOT EXISTS base_groups (
		deployment_id INTEGER NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
		node          INTEGER NOT NULL,
		shard         INTEGER NOT NULL,
		origin_node   INTEGER NOT NULL,
		origin_shard  INTEGER NOT NULL,
		path          INTEGER NOT NULL,
		PRIMARY KEY (deployment_id, node, shard, path)
	);

	CREATE TABLE IF NOT EXISTS placements (
		deployment_id INTEGER NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
		domain        INTEGER NOT NULL,
		shard         INTEGER NOT NULL,
		worker        TEXT NOT NULL,
		PRIMARY KEY (deployment_id, domain, shard)
	);
	CREATE INDEX IF NOT EXISTS idx_placements_worker ON placements(deployment_id, worker);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Summary describes a saved deployment without loading it.
type Summary struct {
	ID       int64     `json:"id"`
	Nodes    int       `json:"nodes"`
	Shards   int       `json:"shards"`
	MaxSlots int       `json:"max_slots"`
	Created  time.Time `json:"created"`
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

// SaveDeployment stores d and sets d.ID to the new row id.
func (s *Store) SaveDeployment(d *deploy.Deployment) (int64, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(d.Graph.Describe()); err != nil {
		return 0, errors.Wrap(err, "encode graph")
	}
	entries := d.Assignments.Entries()

	var id int64
	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return errors.Wrap(err, "begin tx")
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		res, err := tx.Exec(
			`INSERT INTO deployments (graph, nodes, shards, max_slots, created_at) VALUES (?, ?, ?, ?, ?)`,
			buf.String(), d.Assignments.Len(), len(entries), d.Assignments.MaxSlots(),
			d.Created.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return errors.Wrap(err, "insert deployment")
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, a := range entries {
			if err := insertAssignment(tx, id, a); err != nil {
				return errors.Wrapf(err, "insert %s", a.Key)
			}
		}
		for ds, w := range d.Placement {
			if _, err := tx.Exec(
				`INSERT INTO placements (deployment_id, domain, shard, worker) VALUES (?, ?, ?, ?)`,
				id, ds.Domain, ds.Shard, string(w),
			); err != nil {
				return errors.Wrapf(err, "insert placement %s", ds)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

func insertAssignment(tx *sql.Tx, id int64, a assign.Assignment) error {
	k := a.Key
	if _, err := tx.Exec(
		`INSERT INTO shards (deployment_id, node, shard, identity) VALUES (?, ?, ?, ?)`,
		id, k.Node, k.Shard, boolToInt(a.Map.IsIdentity()),
	); err != nil {
		return err
	}
	for i, in := range a.Inputs {
		if _, err := tx.Exec(
			`INSERT INTO inputs (deployment_id, node, shard, ordinal, from_node, from_shard, width)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, k.Node, k.Shard, i, in.Node, in.Shard, a.Widths[i],
		); err != nil {
			return err
		}
	}
	for anc, row := range a.Map.Table() {
		for in, out := range row {
			if _, err := tx.Exec(
				`INSERT INTO path_maps (deployment_id, node, shard, ancestor, incoming, outgoing)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				id, k.Node, k.Shard, anc, in, uint64(out),
			); err != nil {
				return err
			}
		}
	}
	for p, o := range a.Routes {
		if _, err := tx.Exec(
			`INSERT INTO routes (deployment_id, node, shard, path, origin_node, origin_shard)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, k.Node, k.Shard, p, o.Node, o.Shard,
		); err != nil {
			return err
		}
	}
	for _, g := range a.Groups {
		for _, p := range g.Paths {
			if _, err := tx.Exec(
				`INSERT INTO base_groups (deployment_id, node, shard, origin_node, origin_shard, path)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				id, k.Node, k.Shard, g.Origin.Node, g.Origin.Shard, uint64(p),
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// LoadDeployment reads deployment id back.
func (s *Store) LoadDeployment(id int64) (*deploy.Deployment, error) {
	var graphJSON, createdStr string
	err := s.db.QueryRow(`SELECT graph, created_at FROM deployments WHERE id = ?`, id).
		Scan(&graphJSON, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("deployment %d", id), ErrNotFound)
	} else if err != nil {
		return nil, errors.Wrapf(err, "load deployment %d", id)
	}
	g, err := graph.Decode(bytes.NewBufferString(graphJSON))
	if err != nil {
		return nil, errors.Wrapf(err, "deployment %d", id)
	}
	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for deployment %d", id)
	}

	entries, err := s.loadAssignments(id)
	if err != nil {
		return nil, errors.Wrapf(err, "deployment %d", id)
	}
	pa, err := assign.Restore(entries)
	if err != nil {
		return nil, errors.Wrapf(err, "deployment %d", id)
	}
	placement, err := s.loadPlacement(id)
	if err != nil {
		return nil, errors.Wrapf(err, "deployment %d", id)
	}
	return &deploy.Deployment{
		ID:          id,
		Graph:       g,
		Assignments: pa,
		Placement:   placement,
		Created:     created,
	}, nil
}

// LatestDeployment loads the most recently saved deployment.
func (s *Store) LatestDeployment() (*deploy.Deployment, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM deployments ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.New("no deployments saved"), ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	return s.LoadDeployment(id)
}

func (s *Store) loadAssignments(id int64) ([]assign.Assignment, error) {
	byKey := make(map[model.ShardKey]*assign.Assignment)
	var order []model.ShardKey
	identity := make(map[model.ShardKey]bool)

	err := s.eachRow(`SELECT node, shard, identity FROM shards WHERE deployment_id = ? ORDER BY node, shard`, id,
		func(rows *sql.Rows) error {
			var k model.ShardKey
			var ident int
			if err := rows.Scan(&k.Node, &k.Shard, &ident); err != nil {
				return err
			}
			byKey[k] = &assign.Assignment{Key: k}
			identity[k] = ident != 0
			order = append(order, k)
			return nil
		})
	if err != nil {
		return nil, err
	}
	lookup := func(k model.ShardKey) (*assign.Assignment, error) {
		a, ok := byKey[k]
		if !ok {
			return nil, errors.Newf("row for unknown shard %s", k)
		}
		return a, nil
	}

	err = s.eachRow(`SELECT node, shard, from_node, from_shard, width FROM inputs
		WHERE deployment_id = ? ORDER BY node, shard, ordinal`, id,
		func(rows *sql.Rows) error {
			var k model.ShardKey
			var in graph.Input
			var w int
			if err := rows.Scan(&k.Node, &k.Shard, &in.Node, &in.Shard, &w); err != nil {
				return err
			}
			a, err := lookup(k)
			if err != nil {
				return err
			}
			a.Inputs = append(a.Inputs, in)
			a.Widths = append(a.Widths, w)
			return nil
		})
	if err != nil {
		return nil, err
	}

	tables := make(map[model.ShardKey][][]model.Path)
	err = s.eachRow(`SELECT node, shard, ancestor, incoming, outgoing FROM path_maps
		WHERE deployment_id = ? ORDER BY node, shard, ancestor, incoming`, id,
		func(rows *sql.Rows) error {
			var k model.ShardKey
			var anc, in int
			var out uint64
			if err := rows.Scan(&k.Node, &k.Shard, &anc, &in, &out); err != nil {
				return err
			}
			t := tables[k]
			for len(t) <= anc {
				t = append(t, nil)
			}
			if in != len(t[anc]) {
				return errors.Newf("%s: path map row for ancestor %d skips to path %d", k, anc, in)
			}
			t[anc] = append(t[anc], model.Path(out))
			tables[k] = t
			return nil
		})
	if err != nil {
		return nil, err
	}
	for k, t := range tables {
		if identity[k] {
			return nil, errors.Newf("%s: identity shard has path map rows", k)
		}
		a, err := lookup(k)
		if err != nil {
			return nil, err
		}
		if a.Map, err = pathmap.New(t); err != nil {
			return nil, errors.Wrapf(err, "%s", k)
		}
	}
	for _, k := range order {
		if !identity[k] && tables[k] == nil {
			return nil, errors.Newf("%s: remapped shard has no path map rows", k)
		}
	}

	err = s.eachRow(`SELECT node, shard, origin_node, origin_shard FROM routes
		WHERE deployment_id = ? ORDER BY node, shard, path`, id,
		func(rows *sql.Rows) error {
			var k model.ShardKey
			var o model.Origin
			if err := rows.Scan(&k.Node, &k.Shard, &o.Node, &o.Shard); err != nil {
				return err
			}
			a, err := lookup(k)
			if err != nil {
				return err
			}
			a.Routes = append(a.Routes, o)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.eachRow(`SELECT node, shard, origin_node, origin_shard, path FROM base_groups
		WHERE deployment_id = ? ORDER BY node, shard, origin_node, origin_shard, path`, id,
		func(rows *sql.Rows) error {
			var k model.ShardKey
			var o model.Origin
			var p uint64
			if err := rows.Scan(&k.Node, &k.Shard, &o.Node, &o.Shard, &p); err != nil {
				return err
			}
			a, err := lookup(k)
			if err != nil {
				return err
			}
			if n := len(a.Groups); n == 0 || a.Groups[n-1].Origin != o {
				a.Groups = append(a.Groups, nodetime.BaseGroup{Origin: o})
			}
			g := &a.Groups[len(a.Groups)-1]
			g.Paths = append(g.Paths, model.Path(p))
			return nil
		})
	if err != nil {
		return nil, err
	}

	out := make([]assign.Assignment, len(order))
	for i, k := range order {
		out[i] = *byKey[k]
	}
	return out, nil
}

func (s *Store) loadPlacement(id int64) (map[model.DomainShard]model.WorkerID, error) {
	out := make(map[model.DomainShard]model.WorkerID)
	err := s.eachRow(`SELECT domain, shard, worker FROM placements WHERE deployment_id = ?`, id,
		func(rows *sql.Rows) error {
			var ds model.DomainShard
			var w string
			if err := rows.Scan(&ds.Domain, &ds.Shard, &w); err != nil {
				return err
			}
			out[ds] = model.WorkerID(w)
			return nil
		})
	return out, err
}

func (s *Store) eachRow(query string, id int64, fn func(*sql.Rows) error) error {
	rows, err := s.db.Query(query, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ---------------------------------------------------------------------------
// List / delete
// ---------------------------------------------------------------------------

// ListDeployments returns saved deployments, newest first.
func (s *Store) ListDeployments(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, nodes, shards, max_slots, created_at FROM deployments ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var createdStr string
		if err := rows.Scan(&sm.ID, &sm.Nodes, &sm.Shards, &sm.MaxSlots, &createdStr); err != nil {
			return nil, err
		}
		if sm.Created, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, errors.Wrapf(err, "parse created_at for deployment %d", sm.ID)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// DeleteDeployment removes a deployment and all its rows.
func (s *Store) DeleteDeployment(id int64) error {
	return retryOnContention(func() error {
		res, err := s.db.Exec(`DELETE FROM deployments WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Mark(errors.Newf("deployment %d", id), ErrNotFound)
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
