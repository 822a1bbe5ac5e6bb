package csvlog

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// Inspection is a debug view of a log file.
type Inspection struct {
	FilePath           string         `json:"file_path"`
	FileExists         bool           `json:"file_exists"`
	FileSize           int64          `json:"file_size"`
	RawLines           int            `json:"raw_rows"`
	ProcessedRows      int            `json:"processed_rows"`
	SkippedRows        int            `json:"skipped_rows"`
	HeaderFound        bool           `json:"header_found"`
	RawColumns         []string       `json:"raw_columns"`
	ProcessedColumns   []string       `json:"processed_columns"`
	FirstRawRows       []string       `json:"first_few_raw_rows"`
	FirstProcessedRows []types.Record `json:"first_few_processed_rows"`
}

// Inspect reports how path is read. A missing file is not an error; the
// result then has FileExists false.
func Inspect(path string, n int) (Inspection, error) {
	in := Inspection{
		FilePath:           path,
		ProcessedColumns:   types.Columns,
		RawColumns:         []string{},
		FirstRawRows:       []string{},
		FirstProcessedRows: []types.Record{},
	}

	f, err := openLog(path)
	if errors.Is(err, ErrNotFound) {
		return in, nil
	}
	if err != nil {
		return in, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return in, err
	}
	in.FileExists = true
	in.FileSize = info.Size()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		in.RawLines++
		if len(in.FirstRawRows) < n {
			in.FirstRawRows = append(in.FirstRawRows, line)
		}
		if len(in.RawColumns) == 0 {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				if fields, err := splitLine(trimmed); err == nil {
					in.RawColumns = fields
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return in, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return in, err
	}
	res, err := Load(f)
	if err != nil {
		return in, err
	}
	in.ProcessedRows = len(res.Records)
	in.SkippedRows = res.Skipped
	in.HeaderFound = res.HeaderFound
	if len(res.Records) > n {
		res.Records = res.Records[:n]
	}
	in.FirstProcessedRows = append(in.FirstProcessedRows, res.Records...)
	return in, nil
}
