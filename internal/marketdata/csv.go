package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"optionbt/internal/model"
)

// csvTimeLayouts are tried in order when parsing the timestamp column.
var csvTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02-01-2006 15:04",
}

// LoadCSV reads one-minute candles from a CSV file with columns
// timestamp,open,high,low,close[,volume]. A header row is detected and
// skipped; timestamps are treated as naive exchange wall-clock times.
func LoadCSV(path string) ([]model.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var candles []model.Candle
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candle csv line %d: %w", line+1, err)
		}
		line++
		if len(rec) < 5 {
			continue
		}

		ts, err := parseCSVTime(rec[0])
		if err != nil {
			if line == 1 {
				// header row
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+2, err)
			}
			vals[i] = v
		}
		volume := 0.0
		if len(rec) >= 6 {
			volume, _ = strconv.ParseFloat(strings.TrimSpace(rec[5]), 64)
		}

		candles = append(candles, model.Candle{
			Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: volume,
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("candle csv %s: no data rows", path)
	}
	return candles, nil
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// CSVSource serves spot history for a single instrument from a local CSV
// file of one-minute candles. It loads the file once on first use.
type CSVSource struct {
	Path    string
	candles []model.Candle
}

// NewCSVSource wraps a candle file; the file is not touched until the
// first SpotHistory call.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// SpotHistory returns candles in [start, end] resampled to the requested
// interval, restricted to exchange session hours.
func (s *CSVSource) SpotHistory(_ context.Context, _ string, start, end time.Time, intervalMinutes int) ([]model.Candle, error) {
	if s.candles == nil {
		loaded, err := LoadCSV(s.Path)
		if err != nil {
			return nil, err
		}
		s.candles = SessionOnly(loaded)
	}

	rangeEnd := end.AddDate(0, 0, 1)
	window := make([]model.Candle, 0, len(s.candles))
	for _, c := range s.candles {
		if c.Time.Before(start) || !c.Time.Before(rangeEnd) {
			continue
		}
		window = append(window, c)
	}
	return Resample(window, intervalMinutes), nil
}
