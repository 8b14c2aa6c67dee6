package chord

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

const (
	ModeBatch = "batch"
	ModeActor = "actor"
)

// Config holds the protocol parameters.
type Config struct {
	// Seed drives the randomized finger targets.
	Seed uint64
	// MaxHops drops advertisements of longer chains. Zero means the node count.
	MaxHops int
}

func (c *Config) hopCeiling(nodes int) int {
	if c.MaxHops > 0 {
		return c.MaxHops
	}
	return nodes
}

type msgKind uint8

const (
	msgAdvertisement msgKind = iota
	msgExchange
)

// message is the unit of work of the protocol. An advertisement offers one
// chain to a node. An exchange carries a node's whole table to the endpoint
// of a chain it just learned, so both ends can reuse each other's chains.
// After an exchange the two ends stay peers: every later improvement at one
// end is advertised to the other over the chain that joins them.
type message struct {
	kind msgKind
	to   int

	chain SemiChain

	from   int
	length int
	chains []SemiChain
	reply  bool
}

// Stats counts protocol work.
type Stats struct {
	Advertisements int64 `json:"advertisements"` // processed, not counting dropped ones
	Improvements   int64 `json:"improvements"`
	Dropped        int64 `json:"dropped"` // over the hop ceiling
	Exchanges      int64 `json:"exchanges"`
	Evictions      int64 `json:"evictions"`
}

type counters struct {
	advertisements atomic.Int64
	improvements   atomic.Int64
	dropped        atomic.Int64
	exchanges      atomic.Int64
	evictions      atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Advertisements: c.advertisements.Load(),
		Improvements:   c.improvements.Load(),
		Dropped:        c.dropped.Load(),
		Exchanges:      c.exchanges.Load(),
		Evictions:      c.evictions.Load(),
	}
}

// peer is the other end of an exchange and the length of the shortest
// chain known to join the two.
type peer struct {
	node   int
	length int
}

// protocol is the per-message logic shared by the batch converger and the
// actor runtime. handle only touches state of the node a message is
// addressed to, so it is safe to run for different nodes concurrently.
type protocol struct {
	g           Graph
	mode        string
	ceiling     int
	peers       [][]peer // per node, sorted by node index
	shortest    []map[ring.Key]int
	stats       *counters
	broadcaster Broadcaster
	logger      *pkg.Logger
}

func newProtocol(g Graph, mode string, cfg *Config, logger *pkg.Logger) protocol {
	return protocol{
		g:        g,
		mode:     mode,
		ceiling:  cfg.hopCeiling(g.NodeCount()),
		peers:    make([][]peer, g.NodeCount()),
		shortest: make([]map[ring.Key]int, g.NodeCount()),
		stats:    &counters{},
		logger:   logger,
	}
}

// relay records the length of sc as the shortest one node u has heard for
// its final key. It reports whether sc is shorter than anything before, in
// which case u passes it on even if its own table has no use for it.
func (p *protocol) relay(u int, sc SemiChain) bool {
	known := p.shortest[u]
	if known == nil {
		known = map[ring.Key]int{p.g.IndexToKey(u): 0}
		p.shortest[u] = known
	}
	if l, ok := known[sc.FinalID]; ok && l <= sc.Length {
		return false
	}
	known[sc.FinalID] = sc.Length
	return true
}

// addPeer records that u can reach node r in length hops. It reports
// whether this is new or shorter than what u knew.
func (p *protocol) addPeer(u, r, length int) bool {
	peers := p.peers[u]
	i, found := slices.BinarySearchFunc(peers, r, func(e peer, node int) int {
		return cmp.Compare(e.node, node)
	})
	if found {
		if peers[i].length <= length {
			return false
		}
		peers[i].length = length
		return true
	}
	p.peers[u] = slices.Insert(peers, i, peer{node: r, length: length})
	return true
}

func (p *protocol) seed(emit func(message)) {
	for u := 0; u < p.g.NodeCount(); u++ {
		for _, v := range p.g.Neighbors(u) {
			emit(message{
				kind:  msgAdvertisement,
				to:    u,
				chain: SemiChain{FinalID: p.g.IndexToKey(v), Length: 1},
			})
		}
	}
}

func (p *protocol) handle(nf *NodeFingers, m message, emit func(message)) {
	switch m.kind {
	case msgAdvertisement:
		p.advertise(nf, m, emit)
	case msgExchange:
		p.exchange(nf, m, emit)
	}
}

func (p *protocol) advertise(nf *NodeFingers, m message, emit func(message)) {
	sc := m.chain
	if sc.Length > p.ceiling {
		p.stats.dropped.Add(1)
		advertDropped.Inc()
		return
	}
	p.stats.advertisements.Add(1)

	shorter := p.relay(m.to, sc)
	evicted := nf.Update(sc)
	if len(evicted) == 0 {
		advertIgnored.Inc()
		if shorter {
			for _, v := range p.g.Neighbors(m.to) {
				emit(message{kind: msgAdvertisement, to: v, chain: sc.Extend(1)})
			}
		}
		return
	}
	p.stats.improvements.Add(1)
	p.stats.evictions.Add(int64(len(evicted)))
	advertImproved.Inc()
	evictions.Add(float64(len(evicted)))
	p.notify(nf, sc, len(evicted))

	for _, v := range p.g.Neighbors(m.to) {
		emit(message{kind: msgAdvertisement, to: v, chain: sc.Extend(1)})
	}
	for _, pe := range p.peers[m.to] {
		emit(message{kind: msgAdvertisement, to: pe.node, chain: sc.Extend(pe.length)})
	}

	if r, ok := p.g.KeyToIndex(sc.FinalID); ok && r != m.to && p.addPeer(m.to, r, sc.Length) {
		emit(message{
			kind:   msgExchange,
			to:     r,
			from:   m.to,
			length: sc.Length,
			chains: tableChains(nf),
			reply:  true,
		})
	}
}

func (p *protocol) exchange(nf *NodeFingers, m message, emit func(message)) {
	p.stats.exchanges.Add(1)
	exchanges.Inc()
	p.addPeer(m.to, m.from, m.length)

	for _, c := range m.chains {
		emit(message{kind: msgAdvertisement, to: m.to, chain: c.Extend(m.length)})
	}
	if m.reply {
		emit(message{
			kind:   msgExchange,
			to:     m.from,
			from:   m.to,
			length: m.length,
			chains: tableChains(nf),
		})
	}
}

func (p *protocol) notify(nf *NodeFingers, sc SemiChain, evicted int) {
	if p.broadcaster == nil {
		return
	}
	err := p.broadcaster.BroadcastFingerEvent(FingerEvent{
		Type:    EventFingerImproved,
		NodeID:  nf.ID().String(),
		FinalID: sc.FinalID.String(),
		Length:  sc.Length,
		Evicted: evicted,
		Mode:    p.mode,
	})
	if err != nil {
		p.logger.Debug().Err(err).Msg("Failed to broadcast finger event")
	}
}

func (p *protocol) converged(duration time.Duration) Stats {
	stats := p.stats.snapshot()
	convergeDuration.WithLabelValues(p.mode).Observe(duration.Seconds())

	p.logger.Info().
		Int64("advertisements", stats.Advertisements).
		Int64("improvements", stats.Improvements).
		Int64("dropped", stats.Dropped).
		Int64("exchanges", stats.Exchanges).
		Int64("evictions", stats.Evictions).
		Dur("duration", duration).
		Msg("Convergence finished")

	if p.broadcaster != nil {
		_ = p.broadcaster.BroadcastFingerEvent(FingerEvent{
			Type:     EventConverged,
			Mode:     p.mode,
			Messages: stats.Advertisements + stats.Exchanges,
		})
	}
	return stats
}

// tableChains returns the chains a node offers in an exchange: everything
// its fingers use plus the empty chain to itself.
func tableChains(nf *NodeFingers) []SemiChain {
	chains := append(nf.Chains(), SemiChain{FinalID: nf.ID()})
	slices.SortFunc(chains, compareSemiChains)
	return slices.Compact(chains)
}

// Converger runs the protocol on a single goroutine with a FIFO work queue.
type Converger struct {
	protocol
	tables []*NodeFingers
	queue  []message
	head   int
}

// NewConverger creates a converger over one table per graph node.
func NewConverger(g Graph, tables []*NodeFingers, cfg *Config, logger *pkg.Logger) (*Converger, error) {
	if err := checkInputs(g, tables, cfg, logger); err != nil {
		return nil, err
	}

	return &Converger{
		protocol: newProtocol(g, ModeBatch, cfg, logger.WithComponent("converger")),
		tables:   tables,
	}, nil
}

func checkInputs(g Graph, tables []*NodeFingers, cfg *Config, logger *pkg.Logger) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}
	if g == nil || g.NodeCount() == 0 {
		return pkg.ErrEmptyNetwork
	}
	if len(tables) != g.NodeCount() {
		return fmt.Errorf("got %d tables for %d nodes", len(tables), g.NodeCount())
	}
	for i, nf := range tables {
		if nf == nil || nf.ID() != g.IndexToKey(i) {
			return fmt.Errorf("table %d does not belong to node %s", i, g.IndexToKey(i))
		}
	}
	return nil
}

// SetBroadcaster sets the receiver of finger events.
func (c *Converger) SetBroadcaster(b Broadcaster) {
	c.broadcaster = b
}

func (c *Converger) push(m message) {
	c.queue = append(c.queue, m)
}

// Seed queues every node's direct neighbours as one-hop chains.
func (c *Converger) Seed() {
	c.protocol.seed(c.push)
}

// Relax processes the queue until it is empty and returns how many
// advertisements improved a table.
func (c *Converger) Relax() int64 {
	before := c.stats.improvements.Load()
	for c.head < len(c.queue) {
		m := c.queue[c.head]
		c.queue[c.head] = message{}
		c.head++
		c.handle(c.tables[m.to], m, c.push)

		if c.head > 1024 && c.head*2 > len(c.queue) {
			c.queue = append(c.queue[:0], c.queue[c.head:]...)
			c.head = 0
		}
	}
	c.queue = c.queue[:0]
	c.head = 0
	return c.stats.improvements.Load() - before
}

// Run seeds the queue and relaxes it to the fixpoint.
func (c *Converger) Run() Stats {
	start := time.Now()
	c.logger.Debug().Int("nodes", c.g.NodeCount()).Int("ceiling", c.ceiling).Msg("Starting convergence")
	c.Seed()
	c.Relax()
	return c.converged(time.Since(start))
}

// Stats returns the work done so far.
func (c *Converger) Stats() Stats {
	return c.stats.snapshot()
}

// InitialTables builds the unconverged table of every node.
func InitialTables(g Graph, seed uint64) []*NodeFingers {
	tables := make([]*NodeFingers, g.NodeCount())
	for i := range tables {
		tables[i] = NewRandomizedFingers(g, i, seed)
	}
	return tables
}

// BuildTables creates and converges the finger tables of every node.
func BuildTables(g Graph, cfg *Config, logger *pkg.Logger) ([]*NodeFingers, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if g == nil || g.NodeCount() == 0 {
		return nil, pkg.ErrEmptyNetwork
	}
	if !g.IsConnected() {
		return nil, pkg.ErrNotConnected
	}

	tables := InitialTables(g, cfg.Seed)
	conv, err := NewConverger(g, tables, cfg, logger)
	if err != nil {
		return nil, err
	}
	conv.Run()
	return tables, nil
}
