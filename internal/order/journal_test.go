package order

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalReplayRebuildsTracker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal", "events.jsonl")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.AppendOrder(Order{ID: "1", Symbol: "AAA", RequestedQty: 3, SubmittedAt: at(0)}))
	require.NoError(t, j.AppendEvent(upd("1", StatusSubmitted, 0, 1)))
	require.NoError(t, j.AppendEvent(deal("1", "d1", 3, 2)))
	require.NoError(t, j.AppendEvent(upd("1", StatusFilled, 3, 3)))
	require.NoError(t, j.AppendEvent(upd("1", StatusFilled, 3, 3)))
	assert.Equal(t, uint64(5), j.Written())
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.Error(t, j.AppendOrder(Order{ID: "2"}))

	tr := NewTracker()
	n, err := Replay(path, tr)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	p, err := tr.GetOrder("1")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, p.Status)
	assert.Len(t, p.History, 2)
	assert.Equal(t, "AAA", p.Symbol)

	// replaying twice does not change the projection
	_, err = Replay(path, tr)
	require.NoError(t, err)
	again, _ := tr.GetOrder("1")
	assert.Equal(t, p.History, again.History)
	assert.Equal(t, p.DealQty, again.DealQty)
}

func TestReplaySkipsGarbageAndMissingFile(t *testing.T) {
	dir := t.TempDir()
	n, err := Replay(filepath.Join(dir, "absent.jsonl"), NewTracker())
	require.NoError(t, err)
	assert.Zero(t, n)

	path := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"kind\":\"update\",\"update\":{\"order_id\":\"9\",\"status\":\"SUBMITTED\"}}\n"), 0o644))
	tr := NewTracker()
	n, err = Replay(path, tr)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.Len())
}
