package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/Sybl-ml/mallus/pkg/client"
	"github.com/Sybl-ml/mallus/pkg/model"
)

// newBaselineAdapter builds the built-in demo model: for each prediction row
// it echoes the value of the numeric column with the highest mean. It exists
// so the binary runs end to end against a coordinator without user code.
func newBaselineAdapter(name string) model.Adapter {
	return model.ExecuteFunc{
		Capability: model.Capability{
			Name:      name,
			Version:   client.Version,
			SchemaTag: "sybl.tabular.v1+json",
		},
		Func: baselinePredict,
	}
}

// baselinePredict expects CSV with a header row whose first column is the
// record id, and writes "record_id,prediction" rows back.
func baselinePredict(ctx context.Context, in model.Input) ([]byte, error) {
	rows, err := csv.NewReader(bytes.NewReader(in.Data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse input csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("input has no data rows")
	}
	header := rows[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("input needs at least one feature column")
	}

	// Pick the feature column with the highest mean across all rows.
	best, bestMean, found := 1, 0.0, false
	for col := 1; col < len(header); col++ {
		sum, n := 0.0, 0
		for _, row := range rows[1:] {
			if col >= len(row) {
				continue
			}
			if v, err := strconv.ParseFloat(row[col], 64); err == nil {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		if mean := sum / float64(n); !found || mean > bestMean {
			best, bestMean, found = col, mean, true
		}
	}

	var out bytes.Buffer
	w := csv.NewWriter(&out)
	_ = w.Write([]string{header[0], "prediction"})
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pred := ""
		if best < len(row) {
			pred = row[best]
		}
		if err := w.Write([]string{row[0], pred}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return out.Bytes(), w.Error()
}
