// Package csvlog writes and reads the people count CSV log.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// TimestampLayout is the layout of the Timestamp column, in local time.
const TimestampLayout = "2006-01-02 15:04:05"

var preamble = []string{
	"# People Counter Data - generated by the counter service",
	"# This file contains people detection statistics for charting and analysis",
	"# Format: Timestamp, Minute, Hour, Day, People_This_Minute, People_This_Hour, People_This_Day, Total_Unique_People",
}

// Writer appends records to the CSV log. It implements counter.Sink.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	csv  *csv.Writer
	rows uint64
}

// Open prepares the log at path, writing the preamble and header when the file
// is missing or empty. Existing content is preserved.
func Open(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat csv log: %w", err)
	}

	w := &Writer{path: path, file: file, csv: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		logger.Info("CSV", "Initialized %s", path)
	} else {
		logger.Info("CSV", "Appending to existing %s (%d bytes)", path, info.Size())
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	for _, line := range preamble {
		if err := w.csv.Write([]string{line}); err != nil {
			return fmt.Errorf("failed to write preamble: %w", err)
		}
	}
	w.csv.Flush()
	if _, err := w.file.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write preamble: %w", err)
	}
	if err := w.csv.Write(types.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Append writes one row and syncs it to disk.
func (w *Writer) Append(r types.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("csv log %s is closed", w.path)
	}
	if err := w.csv.Write(formatRecord(r)); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush row: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync csv log: %w", err)
	}
	w.rows++
	return nil
}

// Rows returns the number of rows appended since Open.
func (w *Writer) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Path returns the log file path.
func (w *Writer) Path() string { return w.path }

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	err := w.file.Close()
	w.file = nil
	return err
}

func formatRecord(r types.Record) []string {
	return []string{
		r.Timestamp.Local().Format(TimestampLayout),
		strconv.FormatInt(r.Minute, 10),
		strconv.FormatInt(r.Hour, 10),
		strconv.FormatInt(r.Day, 10),
		strconv.Itoa(r.PeopleThisMinute),
		strconv.Itoa(r.PeopleThisHour),
		strconv.Itoa(r.PeopleThisDay),
		strconv.Itoa(r.TotalUniquePeople),
	}
}
