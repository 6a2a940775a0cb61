package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-01-08 09:15:00,21500,21510,21490,21505,1200
2024-01-08 09:16:00,21505,21515,21500,21512,900
`)
	candles, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC), candles[0].Time)
	assert.Equal(t, 21500.0, candles[0].Open)
	assert.Equal(t, 21505.0, candles[0].Close)
	assert.Equal(t, 1200.0, candles[0].Volume)
}

func TestLoadCSVNoHeaderNoVolume(t *testing.T) {
	path := writeCSV(t, "2024-01-08 09:15:00,21500,21510,21490,21505\n")
	candles, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 0.0, candles[0].Volume)
}

func TestLoadCSVAlternateTimeLayouts(t *testing.T) {
	path := writeCSV(t, "2024-01-08T09:15:00,21500,21510,21490,21505,0\n08-01-2024 09:16,21505,21515,21500,21512,0\n")
	candles, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 16, candles[1].Time.Minute())
}

func TestLoadCSVErrors(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	// Bad number in a data row.
	path := writeCSV(t, "2024-01-08 09:15:00,abc,21510,21490,21505,0\n")
	_, err = LoadCSV(path)
	assert.Error(t, err)

	// Bad timestamp past the header row.
	path = writeCSV(t, "timestamp,open,high,low,close,volume\nnot-a-time,1,2,3,4,5\n")
	_, err = LoadCSV(path)
	assert.Error(t, err)

	// Header only means no data.
	path = writeCSV(t, "timestamp,open,high,low,close,volume\n")
	_, err = LoadCSV(path)
	assert.Error(t, err)
}

func TestCSVSourceSpotHistory(t *testing.T) {
	var rows string
	day := time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ts := day.Add(time.Duration(i) * time.Minute)
		rows += ts.Format("2006-01-02 15:04:05") + ",21500,21510,21490,21505,100\n"
	}
	// One pre-open row that the session filter must drop.
	rows += "2024-01-08 08:00:00,21400,21410,21390,21405,100\n"

	src := NewCSVSource(writeCSV(t, rows))
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	candles, err := src.SpotHistory(context.Background(), "NIFTY", start, start, 5)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, day, candles[0].Time)
	assert.Equal(t, 500.0, candles[0].Volume)

	// Out-of-range request yields nothing.
	prev := start.AddDate(0, 0, -7)
	candles, err = src.SpotHistory(context.Background(), "NIFTY", prev, prev, 5)
	require.NoError(t, err)
	assert.Empty(t, candles)
}
