package csvlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

func sampleRecord(t time.Time, minute, total int) types.Record {
	return types.Record{
		Timestamp:         t,
		Minute:            types.MinuteIndex(t),
		Hour:              types.HourIndex(t),
		Day:               types.DayIndex(t),
		PeopleThisMinute:  minute,
		PeopleThisHour:    minute,
		PeopleThisDay:     minute,
		TotalUniquePeople: total,
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "people.csv")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ts := time.Date(2025, 1, 6, 10, 0, 0, 0, time.Local)
	want := []types.Record{sampleRecord(ts, 1, 1), sampleRecord(ts.Add(time.Minute), 2, 3)}
	for _, r := range want {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, _ := os.ReadFile(path)
	lines := strings.Split(string(raw), "\n")
	if !strings.HasPrefix(lines[0], "# People Counter Data") || lines[3] != "" || lines[4] != strings.Join(types.Columns, ",") {
		t.Fatalf("unexpected file preamble:\n%s", raw)
	}
	if !strings.HasPrefix(lines[5], "2025-01-06 10:00:00,") {
		t.Fatalf("unexpected first row %q", lines[5])
	}

	res, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !res.HeaderFound || res.Skipped != 0 {
		t.Fatalf("header=%v skipped=%d", res.HeaderFound, res.Skipped)
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestOpenPreservesExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ts := time.Date(2025, 1, 6, 10, 0, 0, 0, time.Local)
	w.Append(sampleRecord(ts, 1, 1))
	w.Close()

	w, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	w.Append(sampleRecord(ts.Add(time.Minute), 1, 2))
	w.Close()

	raw, _ := os.ReadFile(path)
	if n := strings.Count(string(raw), "Total_Unique_People\n"); n != 1 {
		t.Fatalf("header written %d times", n)
	}
	res, _ := LoadFile(path)
	if len(res.Records) != 2 {
		t.Fatalf("got %d records after reopen, want 2", len(res.Records))
	}
}

func TestLoadRecoversDamagedFile(t *testing.T) {
	input := strings.Join([]string{
		"# People Counter Data",
		`"# Format: Timestamp, Minute, Hour"`,
		"",
		"Timestamp,Minute,Hour,Day,People_This_Minute,People_This_Hour,People_This_Day,Total_Unique_People2025-01-06 10:00:00,29000000,483333,20139,1,1,1,1",
		"2025-01-06 10:01:00,29000001,483333,20139,2,2,2,2",
		"2025-01-06 10:02:00,29000002,483333,20139,3",
		"not a time,1,2,3,4,5,6,7",
		"2025-01-06 10:03:00,29000003,483333,20139,2.0,3,3,3,extra",
		"Timestamp,Minute,Hour,Day,People_This_Minute,People_This_Hour,People_This_Day,Total_Unique_People",
		"   ",
	}, "\n")

	res, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !res.HeaderFound {
		t.Fatalf("concatenated header not recognised")
	}
	if len(res.Records) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(res.Records), res.Records)
	}
	if res.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2", res.Skipped)
	}
	if res.Records[0].Minute != 29000000 || res.Records[2].PeopleThisMinute != 2 {
		t.Fatalf("unexpected records: %+v", res.Records)
	}
}

func TestLoadWithoutHeader(t *testing.T) {
	res, err := Load(strings.NewReader("2025-01-06 10:00:00,1,2,3,4,5,6,7\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.HeaderFound || len(res.Records) != 1 {
		t.Fatalf("header=%v records=%d", res.HeaderFound, len(res.Records))
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadFileUnreadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte(headerLine+"\n"), 0o000); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFile(path)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ts := time.Date(2025, 1, 6, 10, 0, 0, 0, time.Local)
	for i := 0; i < 4; i++ {
		w.Append(sampleRecord(ts.Add(time.Duration(i)*time.Minute), 1, i+1))
	}
	w.Close()

	in, err := Inspect(path, 2)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !in.FileExists || in.FileSize == 0 {
		t.Fatalf("file not reported: %+v", in)
	}
	if in.RawLines != 9 || in.ProcessedRows != 4 {
		t.Fatalf("raw=%d processed=%d, want 9/4", in.RawLines, in.ProcessedRows)
	}
	if len(in.FirstRawRows) != 2 || len(in.FirstProcessedRows) != 2 {
		t.Fatalf("first rows not limited: %d/%d", len(in.FirstRawRows), len(in.FirstProcessedRows))
	}

	missing, err := Inspect(filepath.Join(t.TempDir(), "nope.csv"), 2)
	if err != nil || missing.FileExists {
		t.Fatalf("missing file: %+v, %v", missing, err)
	}
}
