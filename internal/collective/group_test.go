package collective

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freePeers(t *testing.T, n int) PeerList {
	t.Helper()
	peers := make(PeerList, n)
	for i := range peers {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		peers[i] = PeerID{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
		ln.Close()
	}
	return peers
}

func TestParsePeerList(t *testing.T) {
	pl, err := ParsePeerList([]string{"10.0.0.1:9001", "10.0.0.2:9001"})
	require.NoError(t, err)
	require.Len(t, pl, 2)

	rank, ok := pl.Rank(PeerID{Host: "10.0.0.2", Port: 9001})
	require.True(t, ok)
	assert.Equal(t, 1, rank)

	_, ok = pl.Rank(PeerID{Host: "10.0.0.3", Port: 9001})
	assert.False(t, ok)

	_, err = ParsePeerList([]string{"no-port"})
	assert.Error(t, err)
}

func TestNewRejectsNonMember(t *testing.T) {
	peers := PeerList{{Host: "127.0.0.1", Port: 19001}}
	_, err := New(PeerID{Host: "127.0.0.1", Port: 19099}, peers, testLogger())
	require.Error(t, err)
}

func TestSinglePeerCollectivesAreLocal(t *testing.T) {
	self := PeerID{Host: "127.0.0.1", Port: 0}
	g, err := New(self, PeerList{self}, testLogger())
	require.NoError(t, err)
	defer g.Close()

	data := []float64{1, 2, 3}
	require.NoError(t, g.Reduce("solo", data, 0))
	assert.Equal(t, []float64{1, 2, 3}, data)
	require.NoError(t, g.Barrier())
}

func TestReduceSumsToRoot(t *testing.T) {
	const worldSize = 3
	peers := freePeers(t, worldSize)

	groups := make([]*Group, worldSize)
	for rank := range groups {
		g, err := New(peers[rank], peers, testLogger())
		require.NoError(t, err)
		groups[rank] = g
	}
	defer func() {
		for _, g := range groups {
			g.Close()
		}
	}()

	results := make([][]float64, worldSize)
	errs := make([]error, worldSize)
	var wg sync.WaitGroup
	for rank, g := range groups {
		wg.Add(1)
		go func(rank int, g *Group) {
			defer wg.Done()
			// Rank r contributes [r+1, 10*(r+1)].
			data := []float64{float64(rank + 1), float64(10 * (rank + 1))}
			if errs[rank] = g.Reduce("scores", data, 0); errs[rank] != nil {
				return
			}
			results[rank] = data
			errs[rank] = g.Barrier()
		}(rank, g)
	}
	wg.Wait()

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	assert.Equal(t, []float64{6, 60}, results[0])
}

func TestReduceRejectsShapeMismatch(t *testing.T) {
	peers := freePeers(t, 2)

	g0, err := New(peers[0], peers, testLogger())
	require.NoError(t, err)
	defer g0.Close()
	g1, err := New(peers[1], peers, testLogger())
	require.NoError(t, err)
	defer g1.Close()

	done := make(chan error, 1)
	go func() {
		done <- g1.Reduce("bad", []float64{1, 2, 3}, 0)
	}()

	err = g0.Reduce("bad", []float64{0}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sent 3 values, want 1")
	require.NoError(t, <-done)
}

func TestBarrierReleasesAllRanks(t *testing.T) {
	const worldSize = 4
	peers := freePeers(t, worldSize)

	groups := make([]*Group, worldSize)
	for rank := range groups {
		g, err := New(peers[rank], peers, testLogger())
		require.NoError(t, err)
		groups[rank] = g
	}
	defer func() {
		for _, g := range groups {
			g.Close()
		}
	}()

	// Two consecutive barriers: sequence numbering must keep rounds apart.
	for round := 0; round < 2; round++ {
		errs := make([]error, worldSize)
		var wg sync.WaitGroup
		for rank, g := range groups {
			wg.Add(1)
			go func(rank int, g *Group) {
				defer wg.Done()
				errs[rank] = g.Barrier()
			}(rank, g)
		}
		wg.Wait()
		for rank, err := range errs {
			require.NoError(t, err, "round %d rank %d", round, rank)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	in := message{Name: "val/clipA", Rank: 2, Data: []float64{1.5, -3.25, 0}}

	var buf testBuffer
	require.NoError(t, in.writeTo(&buf))

	var out message
	require.NoError(t, out.readFrom(&buf))
	assert.Equal(t, in, out)
	assert.Equal(t, "message{name=val/clipA,rank=2,count=3}", fmt.Sprint(out))
}

type testBuffer struct {
	data []byte
}

func (b *testBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *testBuffer) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}
