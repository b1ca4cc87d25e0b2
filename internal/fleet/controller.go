package fleet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/metrics"
	"github.com/lodomo/EscapeWright/internal/store"
	"github.com/lodomo/EscapeWright/internal/transmit"
)

var ErrUnknownNode = errors.New("unknown node")

const (
	DefaultPort          = 12413
	DefaultStatusTimeout = 10 * time.Second
	DefaultParallelism   = 8
)

// NodeSpec is one entry of the static fleet definition.
type NodeSpec struct {
	Name     string
	IP       string
	Port     int
	Location string
}

// Relayer delivers a message to a single node.
type Relayer interface {
	Relay(ctx context.Context, name, address, message string) error
}

type Option func(*Controller)

func WithFetcher(f StatusFetcher) Option { return func(c *Controller) { c.fetcher = f } }

func WithProber(p Prober) Option { return func(c *Controller) { c.prober = p } }

func WithStatusTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.statusTimeout = d
		}
	}
}

func WithParallelism(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

func WithNow(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// Controller owns the node records of one room.
type Controller struct {
	store   store.Store
	room    string
	specs   []NodeSpec
	byName  map[string]NodeSpec
	relayer Relayer

	fetcher       StatusFetcher
	prober        Prober
	statusTimeout time.Duration
	parallelism   int
	now           func() time.Time

	mu   sync.Mutex
	last map[string]NodeRecord

	wg sync.WaitGroup
}

// NewController validates the fleet definition. A bad IP, a duplicate name or
// a name that would corrupt the persisted record is an error.
func NewController(s store.Store, room string, specs []NodeSpec, relayer Relayer, opts ...Option) (*Controller, error) {
	c := &Controller{
		store:         s,
		room:          room,
		byName:        make(map[string]NodeSpec, len(specs)),
		relayer:       relayer,
		fetcher:       HTTPFetcher{},
		prober:        TCPProber{},
		statusTimeout: DefaultStatusTimeout,
		parallelism:   DefaultParallelism,
		now:           time.Now,
		last:          make(map[string]NodeRecord, len(specs)),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, spec := range specs {
		if spec.Name == "" || strings.ContainsAny(spec.Name, ":/ ") {
			return nil, fmt.Errorf("fleet: invalid node name %q", spec.Name)
		}
		if strings.Contains(spec.Location, ":") {
			return nil, fmt.Errorf("fleet: node %s: location may not contain ':'", spec.Name)
		}
		ip := net.ParseIP(spec.IP)
		if ip == nil {
			return nil, fmt.Errorf("fleet: node %s: invalid ip address %q", spec.Name, spec.IP)
		}
		if _, dup := c.byName[spec.Name]; dup {
			return nil, fmt.Errorf("fleet: duplicate node name %q", spec.Name)
		}
		spec.IP = ip.String()
		if spec.Port == 0 {
			spec.Port = DefaultPort
		}
		c.specs = append(c.specs, spec)
		c.byName[spec.Name] = spec
		c.last[spec.Name] = c.baseline(spec)
	}
	return c, nil
}

// Names returns node names in configuration order.
func (c *Controller) Names() []string {
	names := make([]string, len(c.specs))
	for i, s := range c.specs {
		names[i] = s.Name
	}
	return names
}

func (c *Controller) key(name string) string {
	return store.Key(c.room, "node", name)
}

func (c *Controller) baseline(spec NodeSpec) NodeRecord {
	return NodeRecord{
		Name:           spec.Name,
		IP:             spec.IP,
		Port:           spec.Port,
		Location:       spec.Location,
		Status:         StatusOffline,
		StatusPrevious: StatusOffline,
		StatusTime:     c.now().Unix(),
	}
}

// Init writes the offline baseline for nodes without a record, or for every
// node when force is set. Errors mean the store is unusable.
func (c *Controller) Init(ctx context.Context, force bool) error {
	for _, spec := range c.specs {
		rec := c.baseline(spec)
		var err error
		if force {
			_, err = c.store.Set(ctx, c.key(spec.Name), rec.Encode())
		} else {
			_, err = c.store.Put(ctx, c.key(spec.Name), rec.Encode(), 0)
			if errors.Is(err, store.ErrConflict) {
				err = nil
			}
		}
		if err != nil {
			return fmt.Errorf("fleet init %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Node returns the current record for name.
func (c *Controller) Node(ctx context.Context, name string) (NodeRecord, error) {
	spec, ok := c.byName[name]
	if !ok {
		return NodeRecord{}, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	return c.read(ctx, spec), nil
}

// Nodes returns every record in configuration order.
func (c *Controller) Nodes(ctx context.Context) []NodeRecord {
	out := make([]NodeRecord, len(c.specs))
	for i, spec := range c.specs {
		out[i] = c.read(ctx, spec)
	}
	return out
}

// AllReady is true iff every node's persisted status is READY.
func (c *Controller) AllReady(ctx context.Context) bool {
	for _, spec := range c.specs {
		if !c.read(ctx, spec).Ready() {
			return false
		}
	}
	return true
}

// RefreshAll polls every node concurrently. Transport failures are recorded on
// the node; only store failures are returned.
func (c *Controller) RefreshAll(ctx context.Context) error {
	start := time.Now()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(c.parallelism)
	for _, spec := range c.specs {
		g.Go(func() error {
			if err := c.refreshOne(ctx, spec); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.ObserveRefresh(time.Since(start))
	ready := c.AllReady(ctx)
	events.Info("fleet.refreshed", "", map[string]interface{}{
		"nodes":    len(c.specs),
		"ready":    ready,
		"duration": time.Since(start).String(),
	})
	if ready && len(c.specs) > 0 {
		events.Info("fleet.ready", "", nil)
	}
	return errors.Join(errs...)
}

func (c *Controller) refreshOne(ctx context.Context, spec NodeSpec) error {
	current := c.read(ctx, spec)

	rctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	status, err := c.fetcher.FetchStatus(rctx, current)
	cancel()

	reachable := true
	if err != nil {
		log.Printf("fleet: status request to %s failed: %v", spec.Name, err)
		status = StatusError
		reachable = c.prober.Reachable(ctx, current)
		events.Warn("node.unreachable", err.Error(), map[string]interface{}{
			"node":      spec.Name,
			"reachable": reachable,
		})
	}

	_, uerr := c.update(ctx, spec, func(r *NodeRecord) {
		c.setStatus(r, status)
		r.Reachable = reachable
	})
	return uerr
}

// UpdateStatus applies a status pushed by the node itself.
func (c *Controller) UpdateStatus(ctx context.Context, name, status string) error {
	spec, ok := c.byName[name]
	if !ok {
		log.Printf("fleet: status %q from unknown node %q ignored", status, name)
		events.Warn("node.unknown", "status from unknown node", map[string]interface{}{
			"node":   name,
			"status": status,
		})
		return fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	_, err := c.update(ctx, spec, func(r *NodeRecord) {
		c.setStatus(r, cleanField(status))
		r.Reachable = true
	})
	return err
}

// ClearAll resets every node to the offline baseline.
func (c *Controller) ClearAll(ctx context.Context) error {
	var errs []error
	for _, spec := range c.specs {
		rec := c.baseline(spec)
		if _, err := c.store.Set(ctx, c.key(spec.Name), rec.Encode()); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", spec.Name, err))
			continue
		}
		c.remember(rec)
	}
	events.Info("fleet.cleared", "", map[string]interface{}{"nodes": len(c.specs)})
	return errors.Join(errs...)
}

// Relay sends message to one node and waits for delivery. A failed delivery
// marks the node as errored.
func (c *Controller) Relay(ctx context.Context, name, message string) error {
	spec, ok := c.byName[name]
	if !ok {
		log.Printf("fleet: relay %q to unknown node %q", message, name)
		events.Warn("node.unknown", "relay to unknown node", map[string]interface{}{"node": name})
		return fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	rec := c.read(ctx, spec)

	err := c.relayer.Relay(ctx, name, rec.Address(), message)
	metrics.IncRelay(name, err == nil)
	if err != nil {
		// A node that answered with its fatal marker is alive and restarting.
		fatal := errors.Is(err, transmit.ErrNodeFatal)
		reachable := fatal || c.prober.Reachable(ctx, rec)
		if fatal {
			events.Error("node.fatal", "node restarting after relay", map[string]interface{}{"node": name, "message": message})
		}
		if _, uerr := c.update(ctx, spec, func(r *NodeRecord) {
			c.setStatus(r, StatusError)
			r.Reachable = reachable
		}); uerr != nil {
			log.Printf("fleet: recording relay failure for %s: %v", name, uerr)
		}
		return fmt.Errorf("relay to %s: %w", name, err)
	}
	events.Info("node.relayed", "", map[string]interface{}{"node": name, "message": message})
	return nil
}

// Broadcast relays message to every node without waiting. Failures are logged
// per node and never affect delivery to the others.
func (c *Controller) Broadcast(ctx context.Context, message string) {
	bctx := context.WithoutCancel(ctx)
	for _, spec := range c.specs {
		c.wg.Add(1)
		go func(name string) {
			defer c.wg.Done()
			if err := c.Relay(bctx, name, message); err != nil {
				log.Printf("fleet: broadcast %q to %s failed: %v", message, name, err)
			}
		}(spec.Name)
	}
	events.Info("fleet.broadcast", "", map[string]interface{}{"message": message, "nodes": len(c.specs)})
}

// Wait blocks until in-flight broadcasts finish.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// setStatus shifts the current status into StatusPrevious. StatusTime only
// moves when the status actually changes.
func (c *Controller) setStatus(r *NodeRecord, status string) {
	r.StatusPrevious = r.Status
	if status != r.Status {
		r.StatusTime = c.now().Unix()
	}
	r.Status = status
}

func (c *Controller) read(ctx context.Context, spec NodeSpec) NodeRecord {
	rec, err := c.store.Get(ctx, c.key(spec.Name))
	if errors.Is(err, store.ErrNotFound) {
		return c.baseline(spec)
	}
	if err != nil {
		log.Printf("fleet: read %s failed, using last known record: %v", spec.Name, err)
		return c.lastKnown(spec.Name)
	}
	r, err := DecodeRecord(rec.Value)
	if err != nil {
		log.Printf("fleet: %v", err)
		return c.lastKnown(spec.Name)
	}
	r = c.withSpec(r, spec)
	c.remember(r)
	return r
}

func (c *Controller) update(ctx context.Context, spec NodeSpec, fn func(*NodeRecord)) (NodeRecord, error) {
	var next NodeRecord
	_, err := store.Update(ctx, c.store, c.key(spec.Name), 0, func(cur string, found bool) (string, error) {
		r := c.baseline(spec)
		if found {
			if decoded, err := DecodeRecord(cur); err == nil {
				r = decoded
			} else {
				log.Printf("fleet: replacing unreadable record for %s: %v", spec.Name, err)
			}
		}
		r = c.withSpec(r, spec)
		fn(&r)
		next = r
		return r.Encode(), nil
	})
	if err != nil {
		return NodeRecord{}, fmt.Errorf("update node %s: %w", spec.Name, err)
	}
	c.remember(next)
	metrics.SetNodeState(next.Name, next.Ready(), next.Reachable)
	if next.Changed() {
		events.Info("node.status", "", map[string]interface{}{
			"node":       next.Name,
			"status":     next.Status,
			"status_was": next.StatusPrevious,
			"reachable":  next.Reachable,
		})
	}
	return next, nil
}

// withSpec makes the static definition win over whatever was persisted.
func (c *Controller) withSpec(r NodeRecord, spec NodeSpec) NodeRecord {
	r.Name = spec.Name
	r.IP = spec.IP
	r.Port = spec.Port
	r.Location = spec.Location
	return r
}

func (c *Controller) remember(r NodeRecord) {
	c.mu.Lock()
	c.last[r.Name] = r
	c.mu.Unlock()
}

func (c *Controller) lastKnown(name string) NodeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[name]
}
