package datasets

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	return strconv.ParseFloat(s, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// columnIndex maps lower-cased header names to their position and checks
// that every required column is present.
func columnIndex(header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range required {
		if _, ok := idx[strings.ToLower(col)]; !ok {
			return nil, errors.Errorf("required column %q not found in CSV", col)
		}
	}
	return idx, nil
}

// ReadTable reads every CSV file matching pattern and returns the requested
// columns as float rows, in file order. Files are matched with
// filepath.Glob, so a single path works too.
func ReadTable(pattern string, columns []string) ([][]float64, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to glob pattern %s", pattern)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no CSV files found matching pattern: %s", pattern)
	}
	var rows [][]float64
	for _, p := range paths {
		r, err := readTableFile(p, columns)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r...)
	}
	return rows, nil
}

func readTableFile(path string, columns []string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read header of %s", path)
	}
	idx, err := columnIndex(header, columns)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	var rows [][]float64
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d", path, line)
		}
		row := make([]float64, len(columns))
		for j, col := range columns {
			v, err := parseFloat(record[idx[strings.ToLower(col)]])
			if err != nil {
				return nil, errors.Wrapf(err, "%s line %d column %s", path, line, col)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteTable writes rows under header to path, creating parent directories.
// The file is written to a temporary name and renamed into place.
func WriteTable(path string, header []string, rows [][]float64) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}
	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		file.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "writing header")
	}
	record := make([]string, len(header))
	for i, row := range rows {
		if len(row) != len(header) {
			file.Close()
			os.Remove(tmp)
			return errors.Errorf("row %d has %d values for %d columns", i, len(row), len(header))
		}
		for j, v := range row {
			record[j] = formatFloat(v)
		}
		if err := w.Write(record); err != nil {
			file.Close()
			os.Remove(tmp)
			return errors.Wrapf(err, "writing row %d", i)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "flushing CSV")
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "closing %s", tmp)
	}
	return os.Rename(tmp, path)
}
