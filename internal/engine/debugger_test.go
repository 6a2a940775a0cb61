package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebuggerDisabledIsNoOp(t *testing.T) {
	d := NewDebugger(false)
	assert.False(t, d.Enabled())
	d.Record(DebugEntry{Time: "2024-01-08 09:15:00"})
	assert.Equal(t, 0, d.Len())
	assert.NoError(t, d.Save(filepath.Join(t.TempDir(), "never.json")))

	var nilDbg *Debugger
	assert.False(t, nilDbg.Enabled())
	assert.Equal(t, 0, nilDbg.Len())
}

func TestDebuggerRecordsAndIndexes(t *testing.T) {
	d := NewDebugger(true)
	d.Record(DebugEntry{Time: "2024-01-08 09:15:00", SkipReason: "WARMUP(1/15)"})
	d.Record(DebugEntry{Time: "2024-01-08 09:20:00"})

	entries := d.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].BarIndex)
	assert.Equal(t, 1, entries[1].BarIndex)
	assert.Equal(t, "WARMUP(1/15)", entries[0].SkipReason)
}

func TestDebuggerSaveRoundTrip(t *testing.T) {
	d := NewDebugger(true)
	d.Record(DebugEntry{
		Time:           "2024-01-08 10:00:00",
		Spot:           SpotDebug{Open: 21500, High: 21520, Low: 21490, Close: 21510},
		ResolvedSignal: "BUY_CALL",
		Action:         "BUY_CALL",
	})

	path := filepath.Join(t.TempDir(), "nested", "candles.json")
	require.NoError(t, d.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Meta struct {
			TotalCandles int `json:"total_candles"`
		} `json:"meta"`
		Candles []DebugEntry `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 1, doc.Meta.TotalCandles)
	require.Len(t, doc.Candles, 1)
	assert.Equal(t, "BUY_CALL", doc.Candles[0].ResolvedSignal)
	assert.Equal(t, 21510.0, doc.Candles[0].Spot.Close)
}
