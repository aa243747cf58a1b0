package main

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Columns appended on the first tracking write-back
const (
	trackingColumn = "tracking_number"
	serviceColumn  = "shipped_service"
	costColumn     = "shipped_cost"
)

type column struct {
	Name string `json:"name"`
	Type string `json:"type"` // "text", "integer", "real"
}

type sourceRow struct {
	RowNumber int                    `json:"row_number"`
	Fields    map[string]interface{} `json:"fields"`
}

// csvSource serves one CSV file. Row numbers are 1-based ordinals over the
// data rows and stay stable for the life of the process; tracking writes
// rewrite the file in place without reordering.
type csvSource struct {
	mu      sync.Mutex
	path    string
	header  []string
	records [][]string
	columns []column
}

func openCSVSource(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("source file has no header row")
	}

	header := all[0]
	records := all[1:]

	// Pad short records so every row has a cell per column
	for i, record := range records {
		for len(record) < len(header) {
			record = append(record, "")
		}
		records[i] = record[:len(header)]
	}

	src := &csvSource{
		path:    path,
		header:  header,
		records: records,
	}
	src.columns = inferColumns(header, records)
	return src, nil
}

// inferColumns types each column from its values: integer when every
// non-empty cell parses as one, real when every non-empty cell is numeric,
// text otherwise.
func inferColumns(header []string, records [][]string) []column {
	columns := make([]column, len(header))
	for i, name := range header {
		isInt, isReal, seen := true, true, false
		for _, record := range records {
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isReal = false
			}
		}
		colType := "text"
		if seen && isInt {
			colType = "integer"
		} else if seen && isReal {
			colType = "real"
		}
		columns[i] = column{Name: name, Type: colType}
	}
	return columns
}

func (s *csvSource) Schema() []column {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Signature fingerprints the source identity: absolute path plus the typed
// column list. The write-back columns are excluded so the signature stays
// stable across tracking writes; a job compiled against this source remains
// executable after partial progress.
func (s *csvSource) Signature() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		abs = s.path
	}

	var b strings.Builder
	b.WriteString(abs)
	for _, col := range s.columns {
		if isWriteBackColumn(col.Name) {
			continue
		}
		b.WriteByte('|')
		b.WriteString(col.Name)
		b.WriteByte(':')
		b.WriteString(col.Type)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func isWriteBackColumn(name string) bool {
	switch strings.ToLower(name) {
	case trackingColumn, serviceColumn, costColumn:
		return true
	}
	return false
}

func (s *csvSource) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Row returns the 1-based row or an error when out of range
func (s *csvSource) Row(rowNumber int) (*sourceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rowNumber < 1 || rowNumber > len(s.records) {
		return nil, fmt.Errorf("row %d out of range (1..%d)", rowNumber, len(s.records))
	}
	return s.rowLocked(rowNumber), nil
}

// Query returns rows matching the filter in source order. An empty filter
// matches everything.
func (s *csvSource) Query(where string) ([]*sourceRow, error) {
	matcher, err := compileWhere(where)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*sourceRow, 0, len(s.records))
	for i := range s.records {
		row := s.rowLocked(i + 1)
		match, err := matcher(row.Fields)
		if err != nil {
			return nil, err
		}
		if match {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *csvSource) Count(where string) (int, error) {
	rows, err := s.Query(where)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// WriteTracking records shipment results on a row and rewrites the file.
// The tracking columns are appended on first use. cost arrives in integer
// minor units and is written as a decimal string.
func (s *csvSource) WriteTracking(rowNumber int, tracking, service string, cost int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rowNumber < 1 || rowNumber > len(s.records) {
		return fmt.Errorf("row %d out of range (1..%d)", rowNumber, len(s.records))
	}

	s.ensureColumnLocked(trackingColumn)
	s.ensureColumnLocked(serviceColumn)
	s.ensureColumnLocked(costColumn)

	record := s.records[rowNumber-1]
	record[s.columnIndexLocked(trackingColumn)] = tracking
	record[s.columnIndexLocked(serviceColumn)] = service
	record[s.columnIndexLocked(costColumn)] = fmt.Sprintf("%d.%02d", cost/100, cost%100)

	return s.flushLocked()
}

func (s *csvSource) rowLocked(rowNumber int) *sourceRow {
	record := s.records[rowNumber-1]
	fields := make(map[string]interface{}, len(s.columns))
	for i, col := range s.columns {
		cell := record[i]
		if strings.TrimSpace(cell) == "" {
			if col.Type == "text" {
				fields[col.Name] = cell
			} else {
				fields[col.Name] = nil
			}
			continue
		}
		switch col.Type {
		case "integer":
			n, _ := strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
			fields[col.Name] = n
		case "real":
			f, _ := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			fields[col.Name] = f
		default:
			fields[col.Name] = cell
		}
	}
	return &sourceRow{RowNumber: rowNumber, Fields: fields}
}

func (s *csvSource) columnIndexLocked(name string) int {
	for i, h := range s.header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func (s *csvSource) ensureColumnLocked(name string) {
	if s.columnIndexLocked(name) >= 0 {
		return
	}
	s.header = append(s.header, name)
	s.columns = append(s.columns, column{Name: name, Type: "text"})
	for i := range s.records {
		s.records[i] = append(s.records[i], "")
	}
}

// flushLocked rewrites the file through a temp file and rename so a crash
// mid-write never truncates the source.
func (s *csvSource) flushLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".shipagent-source-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	writer := csv.NewWriter(tmp)
	if err := writer.Write(s.header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	for _, record := range s.records {
		if err := writer.Write(record); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
