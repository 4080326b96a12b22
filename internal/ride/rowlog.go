package ride

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrLogLocked    = errors.New("row log locked by another process")
)

// RowLog is the durable append-only backing store for the telemetry
// buffer. Rows appended for a ride must survive a crash until Commit
// drops them after a successful finalize.
type RowLog interface {
	Begin(rideID int) error
	Append(rideID int, row Row) error
	// Pending returns the oldest uncommitted ride and its rows in
	// insertion order, or ok=false when nothing is outstanding.
	Pending() (rideID int, rows []Row, ok bool, err error)
	Commit(rideID int) error
	Close() error
}

const rowLogLockFile = ".ridesync.lock"

// fileRowLog keeps one JSON-lines file per ride under a directory. An
// exclusive flock on the directory enforces the single-writer assumption
// the ride id allocator depends on.
type fileRowLog struct {
	dir      string
	lockFile *os.File

	mu      sync.Mutex
	current *os.File
	writer  *bufio.Writer
	rideID  int
}

func NewFileRowLog(dir string) (RowLog, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lockFile, err := os.OpenFile(filepath.Join(dir, rowLogLockFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("%w: %s", ErrLogLocked, dir)
	}
	return &fileRowLog{dir: dir, lockFile: lockFile, rideID: -1}, nil
}

func (l *fileRowLog) segmentPath(rideID int) string {
	return filepath.Join(l.dir, fmt.Sprintf("rows-%d.jsonl", rideID))
}

func (l *fileRowLog) Begin(rideID int) error {
	if rideID < 0 {
		return ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeCurrentLocked(); err != nil {
		return err
	}
	file, err := os.OpenFile(l.segmentPath(rideID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.current = file
	l.writer = bufio.NewWriter(file)
	l.rideID = rideID
	return nil
}

func (l *fileRowLog) Append(rideID int, row Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || l.rideID != rideID {
		return fmt.Errorf("row log has no open segment for ride %d", rideID)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	// Flush per row: a buffered row lost in a crash defeats the log.
	return l.writer.Flush()
}

func (l *fileRowLog) Pending() (int, []Row, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids, err := l.segmentIDsLocked()
	if err != nil {
		return 0, nil, false, err
	}
	if len(ids) == 0 {
		return 0, nil, false, nil
	}
	rideID := ids[0]
	rows, err := l.readSegmentLocked(rideID)
	if err != nil {
		return 0, nil, false, err
	}
	return rideID, rows, true, nil
}

func (l *fileRowLog) Commit(rideID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rideID == rideID {
		if err := l.closeCurrentLocked(); err != nil {
			return err
		}
	}
	err := os.Remove(l.segmentPath(rideID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *fileRowLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	closeErr := l.closeCurrentLocked()
	if l.lockFile != nil {
		_ = unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
		_ = l.lockFile.Close()
		l.lockFile = nil
	}
	return closeErr
}

func (l *fileRowLog) closeCurrentLocked() error {
	if l.current == nil {
		return nil
	}
	var flushErr error
	if l.writer != nil {
		flushErr = l.writer.Flush()
	}
	closeErr := l.current.Close()
	l.current = nil
	l.writer = nil
	l.rideID = -1
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (l *fileRowLog) segmentIDsLocked() ([]int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "rows-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, "rows-"), ".jsonl")
		id, convErr := strconv.Atoi(raw)
		if convErr != nil || id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (l *fileRowLog) readSegmentLocked(rideID int) ([]Row, error) {
	if l.writer != nil && l.rideID == rideID {
		if err := l.writer.Flush(); err != nil {
			return nil, err
		}
	}
	file, err := os.Open(l.segmentPath(rideID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	rows := make([]Row, 0, 64)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			// A torn trailing line from a crash mid-write is dropped;
			// everything before it is intact.
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// memoryRowLog backs tests and diskless configurations.
type memoryRowLog struct {
	mu       sync.Mutex
	segments map[int][]Row
	order    []int
}

func NewMemoryRowLog() RowLog {
	return &memoryRowLog{segments: map[int][]Row{}}
}

func (l *memoryRowLog) Begin(rideID int) error {
	if rideID < 0 {
		return ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.segments[rideID]; !exists {
		l.segments[rideID] = []Row{}
		l.order = append(l.order, rideID)
	}
	return nil
}

func (l *memoryRowLog) Append(rideID int, row Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, exists := l.segments[rideID]
	if !exists {
		return fmt.Errorf("row log has no open segment for ride %d", rideID)
	}
	l.segments[rideID] = append(rows, row)
	return nil
}

func (l *memoryRowLog) Pending() (int, []Row, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) == 0 {
		return 0, nil, false, nil
	}
	rideID := l.order[0]
	rows := append([]Row(nil), l.segments[rideID]...)
	return rideID, rows, true, nil
}

func (l *memoryRowLog) Commit(rideID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.segments, rideID)
	for i, id := range l.order {
		if id == rideID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

func (l *memoryRowLog) Close() error { return nil }
