package chord

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zde37/vdht/pkg"
)

// mailbox is an unbounded FIFO inbox. Senders never block.
type mailbox struct {
	mu     sync.Mutex
	items  []message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (mb *mailbox) put(m message) {
	mb.mu.Lock()
	mb.items = append(mb.items, m)
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

func (mb *mailbox) drain() []message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	items := mb.items
	mb.items = nil
	return items
}

// Runtime runs the protocol with one goroutine per node. Each goroutine owns
// its node's table and talks to the others only through mailboxes. The run
// ends when no message is queued or being handled anywhere.
type Runtime struct {
	protocol
	tables    []*NodeFingers
	mailboxes []*mailbox

	pending  atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
}

// NewRuntime creates an actor runtime over one table per graph node.
func NewRuntime(g Graph, tables []*NodeFingers, cfg *Config, logger *pkg.Logger) (*Runtime, error) {
	if err := checkInputs(g, tables, cfg, logger); err != nil {
		return nil, err
	}

	mailboxes := make([]*mailbox, g.NodeCount())
	for i := range mailboxes {
		mailboxes[i] = newMailbox()
	}

	return &Runtime{
		protocol:  newProtocol(g, ModeActor, cfg, logger.WithComponent("runtime")),
		tables:    tables,
		mailboxes: mailboxes,
		done:      make(chan struct{}),
	}, nil
}

// SetBroadcaster sets the receiver of finger events.
func (r *Runtime) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

func (r *Runtime) send(m message) {
	r.pending.Add(1)
	r.mailboxes[m.to].put(m)
}

func (r *Runtime) finish() {
	if r.pending.Add(-1) == 0 {
		r.doneOnce.Do(func() { close(r.done) })
	}
}

// Run seeds the mailboxes and blocks until the fixpoint is reached or ctx
// is cancelled. A Runtime can only be run once.
func (r *Runtime) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	r.logger.Debug().Int("nodes", r.g.NodeCount()).Int("ceiling", r.ceiling).Msg("Starting actors")

	// Hold one token while seeding so that early finishers cannot observe zero.
	r.pending.Add(1)
	r.protocol.seed(r.send)

	eg, ctx := errgroup.WithContext(ctx)
	for i := range r.tables {
		eg.Go(func() error {
			return r.loop(ctx, i)
		})
	}
	r.finish()

	if err := eg.Wait(); err != nil {
		r.logger.Warn().Err(err).Int64("pending", r.pending.Load()).Msg("Actors stopped before convergence")
		return r.stats.snapshot(), err
	}
	return r.converged(time.Since(start)), nil
}

func (r *Runtime) loop(ctx context.Context, i int) error {
	nf := r.tables[i]
	mb := r.mailboxes[i]
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-mb.notify:
			for _, m := range mb.drain() {
				r.handle(nf, m, r.send)
				r.finish()
			}
		}
	}
}

// Stats returns the work done so far.
func (r *Runtime) Stats() Stats {
	return r.stats.snapshot()
}
