package ride

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sampleRow(ts int64) Row {
	speed := 12.5
	return Row{Timestamp: ts, Speed: &speed, HazardSeverity: 2}
}

func TestFileRowLogSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rows")
	log, err := NewFileRowLog(dir)
	if err != nil {
		t.Fatalf("new file row log failed: %v", err)
	}
	if err := log.Begin(3); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := log.Append(3, sampleRow(100)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := log.Append(3, sampleRow(200)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewFileRowLog(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	rideID, rows, ok, err := reopened.Pending()
	if err != nil || !ok {
		t.Fatalf("pending failed: ok=%v err=%v", ok, err)
	}
	if rideID != 3 || len(rows) != 2 {
		t.Fatalf("expected ride 3 with 2 rows, got ride %d with %d", rideID, len(rows))
	}
	if rows[0].Timestamp != 100 || rows[1].Timestamp != 200 {
		t.Fatalf("expected insertion order preserved, got %d, %d", rows[0].Timestamp, rows[1].Timestamp)
	}

	if err := reopened.Commit(3); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, _, ok, err := reopened.Pending(); err != nil || ok {
		t.Fatalf("expected nothing pending after commit, ok=%v err=%v", ok, err)
	}
}

func TestFileRowLogDropsTornTrailingLine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rows")
	log, err := NewFileRowLog(dir)
	if err != nil {
		t.Fatalf("new file row log failed: %v", err)
	}
	if err := log.Begin(0); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := log.Append(0, sampleRow(100)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	segment := filepath.Join(dir, "rows-0.jsonl")
	file, err := os.OpenFile(segment, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open segment failed: %v", err)
	}
	if _, err := file.WriteString(`{"timestamp":200,"hazard`); err != nil {
		t.Fatalf("write torn line failed: %v", err)
	}
	_ = file.Close()

	reopened, err := NewFileRowLog(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	_, rows, ok, err := reopened.Pending()
	if err != nil || !ok {
		t.Fatalf("pending failed: ok=%v err=%v", ok, err)
	}
	if len(rows) != 1 || rows[0].Timestamp != 100 {
		t.Fatalf("expected only the intact row, got %+v", rows)
	}
}

func TestFileRowLogRejectsSecondOpener(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rows")
	first, err := NewFileRowLog(dir)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	defer first.Close()

	if _, err := NewFileRowLog(dir); !errors.Is(err, ErrLogLocked) {
		t.Fatalf("expected ErrLogLocked for second opener, got %v", err)
	}
}

func TestFileRowLogPendingReturnsOldestSegment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rows")
	log, err := NewFileRowLog(dir)
	if err != nil {
		t.Fatalf("new file row log failed: %v", err)
	}
	defer log.Close()

	if err := log.Begin(7); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := log.Append(7, sampleRow(700)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := log.Begin(2); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := log.Append(2, sampleRow(200)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	rideID, _, ok, err := log.Pending()
	if err != nil || !ok {
		t.Fatalf("pending failed: ok=%v err=%v", ok, err)
	}
	if rideID != 2 {
		t.Fatalf("expected lowest-numbered segment first, got ride %d", rideID)
	}
}

func TestMemoryRowLogRoundTrip(t *testing.T) {
	log := NewMemoryRowLog()
	if err := log.Begin(0); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := log.Append(0, sampleRow(1)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	rideID, rows, ok, err := log.Pending()
	if err != nil || !ok || rideID != 0 || len(rows) != 1 {
		t.Fatalf("unexpected pending state: ride=%d rows=%d ok=%v err=%v", rideID, len(rows), ok, err)
	}
	if err := log.Commit(0); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, _, ok, _ := log.Pending(); ok {
		t.Fatalf("expected empty log after commit")
	}
}

func TestBuildRowLogFromDSNSchemes(t *testing.T) {
	if _, err := BuildRowLogFromDSN("memory://"); err != nil {
		t.Fatalf("memory scheme failed: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "rows")
	log, err := BuildRowLogFromDSN("file://" + dir)
	if err != nil {
		t.Fatalf("file scheme failed: %v", err)
	}
	_ = log.Close()
	if _, err := BuildRowLogFromDSN("kafka://broker"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := BuildRowLogFromDSN("   "); err == nil {
		t.Fatalf("expected error for blank DSN")
	}
}

func TestSQLiteRowLogRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sqlite-backed test in short mode")
	}
	path := filepath.Join(t.TempDir(), "rows.db")
	log, err := NewSQLiteRowLog(path)
	if err != nil {
		t.Fatalf("new sqlite row log failed: %v", err)
	}
	defer log.Close()

	if err := log.Begin(1); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := log.Append(1, sampleRow(10)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := log.Append(1, sampleRow(20)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	rideID, rows, ok, err := log.Pending()
	if err != nil || !ok {
		t.Fatalf("pending failed: ok=%v err=%v", ok, err)
	}
	if rideID != 1 || len(rows) != 2 || rows[0].Timestamp != 10 {
		t.Fatalf("unexpected pending rows: ride=%d rows=%+v", rideID, rows)
	}
	if err := log.Commit(1); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, _, ok, _ := log.Pending(); ok {
		t.Fatalf("expected empty log after commit")
	}
}
