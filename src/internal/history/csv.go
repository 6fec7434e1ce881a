package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/modeling"
)

// WriteCSV saves equal-length columns to a CSV file with a header row.
func WriteCSV(filename string, header []string, cols [][]float64) error {
	if len(cols) == 0 {
		return errors.New("CSV: no columns")
	}
	if len(header) != len(cols) {
		return fmt.Errorf("CSV: %d header names for %d columns", len(header), len(cols))
	}
	n := len(cols[0])
	for _, c := range cols {
		if len(c) != n {
			return errors.New("CSV: column size mismatch")
		}
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("CSV: cannot create directory: %w", err)
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("CSV: cannot open %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("CSV: cannot write header: %w", err)
	}

	for r := 0; r < n; r++ {
		row := make([]string, len(cols))
		for c := range cols {
			row[c] = strconv.FormatFloat(cols[c][r], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("CSV: cannot write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("CSV: cannot flush: %w", err)
	}
	return nil
}

// ReadCSV reads a file written by WriteCSV back into its header and columns.
func ReadCSV(filename string) ([]string, [][]float64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("CSV: cannot open %s: %w", filename, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("CSV: cannot read %s: %w", filename, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("CSV: %s is empty", filename)
	}

	header := records[0]
	cols := make([][]float64, len(header))
	for r, rec := range records[1:] {
		for c, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("CSV: row %d column %q: %w", r+1, header[c], err)
			}
			cols[c] = append(cols[c], v)
		}
	}
	return header, cols, nil
}

// WriteUpdates saves the loss history as columns loss, val_loss, episode, step.
func WriteUpdates(filename string, updates []modeling.Update) error {
	loss := make([]float64, len(updates))
	val := make([]float64, len(updates))
	ep := make([]float64, len(updates))
	step := make([]float64, len(updates))
	for i, u := range updates {
		loss[i] = u.Loss
		val[i] = u.ValLoss
		ep[i] = float64(u.Episode)
		step[i] = float64(u.Step)
	}
	return WriteCSV(filename, []string{"loss", "val_loss", "episode", "step"}, [][]float64{loss, val, ep, step})
}
