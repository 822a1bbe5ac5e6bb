package csvlog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

var (
	// ErrNotFound is returned when the log file does not exist.
	ErrNotFound = errors.New("csv log not found")
	// ErrPermission is returned when the log file cannot be read.
	ErrPermission = errors.New("csv log not readable")
)

var headerLine = strings.Join(types.Columns, ",")

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	time.RFC3339Nano,
}

// Result is the outcome of reading a log.
type Result struct {
	Records     []types.Record
	HeaderFound bool
	Skipped     int // data lines that did not parse
}

// Load reads records from r, tolerating the damage seen in real logs:
// comment lines (quoted or not), blank lines, a header glued to the first
// data row, a missing header, rows with extra trailing fields and unparsable
// rows (skipped and counted).
func Load(r io.Reader) (Result, error) {
	var res Result

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, `"#`) {
			continue
		}

		if idx := strings.Index(line, headerLine); idx >= 0 {
			res.HeaderFound = true
			line = strings.TrimSpace(line[idx+len(headerLine):])
			if line == "" {
				continue
			}
		}

		fields, err := splitLine(line)
		if err != nil || len(fields) < len(types.Columns) {
			res.Skipped++
			continue
		}
		rec, err := parseFields(fields[:len(types.Columns)])
		if err != nil {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed to read csv log: %w", err)
	}
	return res, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (Result, error) {
	f, err := openLog(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	return Load(f)
}

func openLog(path string) (*os.File, error) {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermission, path)
	case err != nil:
		return nil, fmt.Errorf("failed to open csv log: %w", err)
	}
	return f, nil
}

func splitLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r.Read()
}

func parseFields(f []string) (types.Record, error) {
	ts, err := parseTimestamp(f[0])
	if err != nil {
		return types.Record{}, err
	}
	var nums [7]int64
	for i := range nums {
		n, err := parseNumber(f[i+1])
		if err != nil {
			return types.Record{}, fmt.Errorf("column %s: %w", types.Columns[i+1], err)
		}
		nums[i] = n
	}
	return types.Record{
		Timestamp:         ts,
		Minute:            nums[0],
		Hour:              nums[1],
		Day:               nums[2],
		PeopleThisMinute:  int(nums[3]),
		PeopleThisHour:    int(nums[4]),
		PeopleThisDay:     int(nums[5]),
		TotalUniquePeople: int(nums[6]),
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// parseNumber accepts integers and integral floats ("3.0"), as pandas wrote them.
func parseNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return int64(f), nil
}
