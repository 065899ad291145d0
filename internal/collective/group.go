// Package collective implements the point-to-point substrate for the
// validation workers: a fixed peer group supporting sum-reduction to a root
// rank and a full barrier. Collectives have no timeout; a crashed or stalled
// peer blocks the whole group, which is the accepted failure mode for a
// lockstep validation pass.
package collective

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const defaultRoot = 0

const (
	dialAttempts    = 6
	dialBaseBackoff = 100 * time.Millisecond
)

// ErrClosed is returned by collectives entered after Close.
var ErrClosed = errors.New("collective group closed")

// Group is one worker's endpoint into the peer group. All peers must call
// Reduce and Barrier in the same order or the group deadlocks.
type Group struct {
	self   PeerID
	peers  PeerList
	rank   int
	logger *slog.Logger

	ln     net.Listener
	wg     sync.WaitGroup
	closed chan struct{}

	mu      sync.Mutex
	inbox   map[string]chan *message
	barrier uint64
}

// New binds the local peer's listener and starts routing inbound messages.
// self must appear in peers; its position defines the local rank.
func New(self PeerID, peers PeerList, logger *slog.Logger) (*Group, error) {
	rank, ok := peers.Rank(self)
	if !ok {
		return nil, fmt.Errorf("peer %s is not a member of group [%s]", self, peers)
	}
	g := &Group{
		self:   self,
		peers:  peers,
		rank:   rank,
		logger: logger,
		closed: make(chan struct{}),
		inbox:  make(map[string]chan *message),
	}
	if len(peers) > 1 {
		ln, err := net.Listen("tcp", self.String())
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", self, err)
		}
		g.ln = ln
		g.wg.Add(1)
		go g.serve()
	}
	return g, nil
}

func (g *Group) Rank() int { return g.rank }

func (g *Group) Size() int { return len(g.peers) }

// Close shuts the listener down and waits for in-flight handlers.
func (g *Group) Close() error {
	select {
	case <-g.closed:
		return nil
	default:
	}
	close(g.closed)
	var err error
	if g.ln != nil {
		err = g.ln.Close()
	}
	g.wg.Wait()
	return err
}

func (g *Group) serve() {
	defer g.wg.Done()
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			select {
			case <-g.closed:
				return
			default:
			}
			g.logger.Warn("accept failed", "peer", g.self.String(), "error", err)
			return
		}
		g.wg.Add(1)
		go g.handle(conn)
	}
}

func (g *Group) handle(conn net.Conn) {
	defer g.wg.Done()
	defer conn.Close()
	var m message
	if err := m.readFrom(conn); err != nil {
		g.logger.Warn("dropping malformed message", "peer", g.self.String(), "error", err)
		return
	}
	select {
	case g.sub(m.Name) <- &m:
	case <-g.closed:
	}
}

// sub returns the routing channel for a message name, creating it on first
// use. Capacity covers one message per peer, which is the most any single
// collective produces.
func (g *Group) sub(name string) chan *message {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.inbox[name]
	if !ok {
		ch = make(chan *message, len(g.peers))
		g.inbox[name] = ch
	}
	return ch
}

func (g *Group) recv(name string) (*message, error) {
	select {
	case m := <-g.sub(name):
		return m, nil
	case <-g.closed:
		return nil, ErrClosed
	}
}

func (g *Group) send(dest PeerID, m *message) error {
	conn, err := g.dial(dest)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := m.writeTo(conn); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", m, dest, err)
	}
	return nil
}

// dial retries with exponential backoff so workers may start in any order.
func (g *Group) dial(dest PeerID) (net.Conn, error) {
	backoff := dialBaseBackoff
	var lastErr error
	for i := 0; i < dialAttempts; i++ {
		conn, err := net.Dial("tcp", dest.String())
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-g.closed:
			return nil, ErrClosed
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("failed to dial peer %s: %w", dest, lastErr)
}

// Reduce sums every peer's data elementwise into root's slice. On ranks other
// than root the local contribution is sent and the slice contents are
// unspecified afterwards; only root's copy is authoritative. The name must be
// unique within the current collective round.
func (g *Group) Reduce(name string, data []float64, root int) error {
	if g.Size() == 1 {
		return nil
	}
	if g.rank != root {
		return g.send(g.peers[root], &message{Name: name, Rank: uint32(g.rank), Data: data})
	}
	for i := 0; i < g.Size()-1; i++ {
		m, err := g.recv(name)
		if err != nil {
			return err
		}
		if len(m.Data) != len(data) {
			return fmt.Errorf("reduce %q: rank %d sent %d values, want %d",
				name, m.Rank, len(m.Data), len(data))
		}
		for j, v := range m.Data {
			data[j] += v
		}
	}
	return nil
}

// Barrier blocks until every peer in the group has entered it.
func (g *Group) Barrier() error {
	if g.Size() == 1 {
		return nil
	}
	g.mu.Lock()
	seq := g.barrier
	g.barrier++
	g.mu.Unlock()

	arrive := fmt.Sprintf("barrier/%d", seq)
	release := fmt.Sprintf("barrier/%d/release", seq)

	if g.rank == defaultRoot {
		for i := 0; i < g.Size()-1; i++ {
			if _, err := g.recv(arrive); err != nil {
				return err
			}
		}
		for r, p := range g.peers {
			if r == defaultRoot {
				continue
			}
			if err := g.send(p, &message{Name: release, Rank: uint32(g.rank)}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := g.send(g.peers[defaultRoot], &message{Name: arrive, Rank: uint32(g.rank)}); err != nil {
		return err
	}
	_, err := g.recv(release)
	return err
}
