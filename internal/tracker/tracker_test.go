package tracker

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []ScalarEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []ScalarEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev ScalarEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestJSONLSinkFlushesOnDemand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "events.jsonl")
	sink := NewJSONLSink(path)

	require.NoError(t, sink.AddScalar("metrics/psnr", 30.12, 5000))
	require.NoError(t, sink.AddScalar("metrics/psnr/clipA", 31.5, 5000))

	// Nothing on disk until the batch fills or Flush is called.
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, sink.Flush())
	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, ScalarEvent{Tag: "metrics/psnr", Value: 30.12, Step: 5000}, events[0])
}

func TestJSONLSinkFlushesFullBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewJSONLSink(path)

	for i := 0; i < batchSize; i++ {
		require.NoError(t, sink.AddScalar("metrics/ssim", float64(i), i))
	}
	events := readEvents(t, path)
	assert.Len(t, events, batchSize)
}

func TestJSONLSinkAppendsAcrossFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewJSONLSink(path)

	require.NoError(t, sink.AddScalar("a", 1, 1))
	require.NoError(t, sink.Flush())
	require.NoError(t, sink.AddScalar("b", 2, 2))
	require.NoError(t, sink.Flush())
	require.NoError(t, sink.Flush()) // empty flush is a no-op

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Tag)
	assert.Equal(t, "b", events[1].Tag)
}
