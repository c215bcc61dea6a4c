// Package flow runs a deployment in process. Every (node, shard) is hosted
// by its own goroutine, which exclusively owns that shard's causal state:
// base shards stamp writes with their timestamp assigner, downstream shards
// apply updates with nodetime.State.ProcessUpdate and forward the returned
// component to every child stream.
//
// Shards talk through FIFO inboxes, so updates on one path are delivered in
// order along every edge. Consistency reads are served by the owning
// goroutine, never by reading another goroutine's state.
//
// A link between two shards can be held to model a slow or partitioned
// route. Held updates queue up in order until the link is released or
// their queue is discarded.
package flow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/assign"
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/daviddao/pathclock/pkg/deploy"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/nodetime"
	"golang.org/x/sync/errgroup"
)

// DefaultInbox is the inbox capacity per shard when Options.Inbox is zero.
const DefaultInbox = 64

var (
	// ErrClosed is returned by calls on a closed runtime.
	ErrClosed = errors.New("runtime closed")
	// ErrUnknownShard is returned for a (node, shard) or link the
	// deployment does not have.
	ErrUnknownShard = errors.New("unknown shard")
	// ErrNotBase is returned when writing to a shard that is not a base
	// table.
	ErrNotBase = errors.New("not a base table")
)

// Options tune Start.
type Options struct {
	Inbox   int
	Logger  *slog.Logger
	Metrics *Metrics
	// Snapshots, when set, supplies the path assignments shard states are
	// built from: whatever snapshot is current when Start runs. Otherwise
	// the deployment's own assignments are used.
	Snapshots *assign.Registry
}

type msgKind int

const (
	msgWrite msgKind = iota
	msgUpdate
	msgQuery
)

type message struct {
	kind     msgKind
	ancestor int
	c        model.TimeComponent
	reply    chan result
}

type result struct {
	c      model.TimeComponent
	status nodetime.Status
	err    error
}

type shard struct {
	key      model.ShardKey
	name     string
	state    *nodetime.State
	assigner *clock.TimestampAssigner
	inbox    chan message
	routes   []route
	// err is set once, by the owning goroutine, when an invariant fails.
	err error
	log *slog.Logger
}

type route struct {
	link     *link
	ancestor int
}

type linkKey struct {
	from, to model.ShardKey
}

type link struct {
	mu    sync.Mutex
	to    *shard
	held  bool
	queue []message
}

// Runtime hosts a running deployment.
type Runtime struct {
	dep      *deploy.Deployment
	paths    *assign.PathAssignments
	shards   map[model.ShardKey]*shard
	links    map[linkKey]*link
	inflight *tracker
	metrics  *Metrics
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// Start builds the state of every shard from dep and starts one goroutine
// per shard. Cancelling ctx stops the runtime like Close.
func Start(ctx context.Context, dep *deploy.Deployment, opts Options) (*Runtime, error) {
	if opts.Inbox <= 0 {
		opts.Inbox = DefaultInbox
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	paths := dep.Assignments
	if opts.Snapshots != nil {
		if paths = opts.Snapshots.Current(); paths == nil {
			return nil, clock.TopologyMismatchf("no path assignments published")
		}
	}
	r := &Runtime{
		dep:      dep,
		paths:    paths,
		shards:   make(map[model.ShardKey]*shard),
		links:    make(map[linkKey]*link),
		inflight: newTracker(),
		metrics:  opts.Metrics,
		log:      opts.Logger.With(slog.String("component", "flow")),
	}

	g := dep.Graph
	for i := 0; i < g.Len(); i++ {
		idx := model.NodeIndex(i)
		n := g.Node(idx)
		// Each base shard gets its own assigner, cloned before any
		// timestamp is issued.
		var proto clock.TimestampAssigner
		if got := paths.Shards(idx); got != n.Shards {
			return nil, errors.Wrapf(clock.TopologyMismatchf("snapshot has %d shards for %d", got, n.Shards),
				"start node %q", n.Name)
		}
		for s := 0; s < n.Shards; s++ {
			key := model.ShardKey{Node: idx, Shard: s}
			st, err := paths.MakeNodeState(idx, s)
			if err != nil {
				return nil, errors.Wrapf(err, "start %s", key)
			}
			worker, _ := dep.WorkerFor(idx, s)
			sh := &shard{
				key:   key,
				name:  n.Name,
				state: st,
				inbox: make(chan message, opts.Inbox),
				log: r.log.With(
					slog.String("node", n.Name),
					slog.Int("shard", s),
					slog.String("worker", string(worker)),
				),
			}
			if n.Base {
				if sh.assigner, err = proto.Clone(); err != nil {
					return nil, errors.Wrapf(err, "start %s", key)
				}
			}
			r.shards[key] = sh
		}
	}
	for key, sh := range r.shards {
		for _, c := range g.Children(key.Node, key.Shard) {
			lk := linkKey{from: key, to: c.Key}
			l, ok := r.links[lk]
			if !ok {
				l = &link{to: r.shards[c.Key]}
				r.links[lk] = l
			}
			sh.routes = append(sh.routes, route{link: l, ancestor: c.Ancestor})
		}
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	for _, sh := range r.shards {
		sh := sh
		r.eg.Go(func() error { return r.run(sh) })
	}
	r.log.Info("runtime started", slog.Int("shards", len(r.shards)), slog.Int("links", len(r.links)))
	return r, nil
}

func (r *Runtime) run(sh *shard) error {
	for {
		select {
		case <-r.ctx.Done():
			return sh.err
		case m := <-sh.inbox:
			r.handle(sh, m)
		}
	}
}

func (r *Runtime) handle(sh *shard, m message) {
	switch m.kind {
	case msgWrite:
		if sh.err != nil {
			m.reply <- result{err: sh.err}
			return
		}
		c := sh.assigner.Assign()
		r.metrics.Assigned.Inc()
		r.forward(sh, c)
		m.reply <- result{c: c}

	case msgUpdate:
		defer r.inflight.done()
		if sh.err != nil {
			sh.log.Debug("dropping update on stopped shard", slog.String("update", m.c.String()))
			return
		}
		out, err := sh.state.ProcessUpdate(m.ancestor, m.c)
		if err != nil {
			sh.err = errors.Wrapf(err, "shard %s", sh.key)
			r.metrics.Violations.WithLabelValues(violationKind(err)).Inc()
			sh.log.Error("invariant violation, shard stopped",
				slog.Int("ancestor", m.ancestor),
				slog.String("update", m.c.String()),
				slog.String("error", err.Error()))
			return
		}
		r.metrics.Processed.WithLabelValues(sh.name).Inc()
		r.forward(sh, out)

	case msgQuery:
		if sh.err != nil {
			m.reply <- result{err: sh.err}
			return
		}
		st := sh.state.Status()
		verdict := "consistent"
		if !st.Consistent {
			verdict = "torn"
		}
		r.metrics.Checks.WithLabelValues(verdict).Inc()
		m.reply <- result{status: st}
	}
}

// forward sends c to every child stream of sh.
func (r *Runtime) forward(sh *shard, c model.TimeComponent) {
	for _, rt := range sh.routes {
		r.inflight.add(1)
		r.deliver(rt.link, message{kind: msgUpdate, ancestor: rt.ancestor, c: c})
	}
}

func (r *Runtime) deliver(l *link, m message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.queue = append(l.queue, m)
		r.inflight.done()
		r.metrics.Held.Inc()
		return
	}
	select {
	case l.to.inbox <- m:
	case <-r.ctx.Done():
		r.inflight.done()
	}
}

func (r *Runtime) request(ctx context.Context, key model.ShardKey, m message) (result, error) {
	sh, ok := r.shards[key]
	if !ok {
		return result{}, errors.Mark(errors.Newf("no shard %s", key), ErrUnknownShard)
	}
	if r.ctx.Err() != nil {
		return result{}, ErrClosed
	}
	m.reply = make(chan result, 1)
	select {
	case sh.inbox <- m:
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-r.ctx.Done():
		return result{}, ErrClosed
	}
	select {
	case res := <-m.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-r.ctx.Done():
		return result{}, ErrClosed
	}
}

// Write stamps a new write at a base shard and forwards it downstream. It
// returns the component the write was stamped with.
func (r *Runtime) Write(ctx context.Context, node model.NodeIndex, shard int) (model.TimeComponent, error) {
	key := model.ShardKey{Node: node, Shard: shard}
	if sh, ok := r.shards[key]; ok && sh.assigner == nil {
		return model.TimeComponent{}, errors.Mark(errors.Newf("write to %s", key), ErrNotBase)
	}
	res, err := r.request(ctx, key, message{kind: msgWrite})
	return res.c, err
}

// Status returns the per-group progress of (node, shard). A shard stopped
// by an invariant violation answers with that violation.
func (r *Runtime) Status(ctx context.Context, node model.NodeIndex, shard int) (nodetime.Status, error) {
	res, err := r.request(ctx, model.ShardKey{Node: node, Shard: shard}, message{kind: msgQuery})
	return res.status, err
}

// Consistent reports whether (node, shard) currently holds an untorn state.
func (r *Runtime) Consistent(ctx context.Context, node model.NodeIndex, shard int) (bool, error) {
	st, err := r.Status(ctx, node, shard)
	return st.Consistent, err
}

// Flush waits until no update is in flight. Updates queued on held links
// do not count.
func (r *Runtime) Flush(ctx context.Context) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case <-r.inflight.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrClosed
	}
}

func (r *Runtime) link(from, to model.ShardKey) (*link, error) {
	l, ok := r.links[linkKey{from: from, to: to}]
	if !ok {
		return nil, errors.Mark(errors.Newf("no link %s -> %s", from, to), ErrUnknownShard)
	}
	return l, nil
}

// Hold queues every update sent from one shard to another until Release.
func (r *Runtime) Hold(from, to model.ShardKey) error {
	l, err := r.link(from, to)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	r.log.Debug("link held", slog.String("from", from.String()), slog.String("to", to.String()))
	return nil
}

// Release delivers the queued updates in order and reopens the link. If ctx
// ends first, undelivered updates stay queued and the link stays held.
func (r *Runtime) Release(ctx context.Context, from, to model.ShardKey) error {
	l, err := r.link(from, to)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) > 0 {
		r.inflight.add(1)
		select {
		case l.to.inbox <- l.queue[0]:
			l.queue = l.queue[1:]
			r.metrics.Held.Dec()
		case <-ctx.Done():
			r.inflight.done()
			return ctx.Err()
		case <-r.ctx.Done():
			r.inflight.done()
			return ErrClosed
		}
	}
	l.held = false
	return nil
}

// Discard drops the updates queued on a held link and returns how many were
// dropped. The link stays held. Releasing it afterwards leaves a gap on the
// receiving paths, which the receiver reports as a sequence gap.
func (r *Runtime) Discard(from, to model.ShardKey) (int, error) {
	l, err := r.link(from, to)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	l.queue = nil
	r.metrics.Held.Sub(float64(n))
	return n, nil
}

// Deployment returns the deployment being run.
func (r *Runtime) Deployment() *deploy.Deployment { return r.dep }

// Assignments returns the snapshot the shard states were built from.
func (r *Runtime) Assignments() *assign.PathAssignments { return r.paths }

// Close stops every shard and returns the first invariant violation any
// shard hit, if one did.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		r.closeErr = r.eg.Wait()
		r.log.Info("runtime stopped")
	})
	return r.closeErr
}
