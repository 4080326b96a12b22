package hazard

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Printf(format string, args ...any)
}

type feedDocument struct {
	Pothole   int     `json:"pothole"`
	Bump      int     `json:"bump"`
	Timestamp float64 `json:"timestamp"`
}

// FileFeed tracks the detections file the live classifier process keeps
// rewriting, and serves the latest value to the sampling path without
// blocking it. Entries older than the freshness window read as all-clear:
// a stalled classifier must not keep a hazard latched.
type FileFeed struct {
	path      string
	freshness time.Duration
	logger    Logger
	now       func() time.Time

	mu        sync.Mutex
	latest    Detections
	writtenAt float64
	readAt    time.Time
}

func NewFileFeed(path string, freshness time.Duration, logger Logger) *FileFeed {
	if freshness <= 0 {
		freshness = 3 * time.Second
	}
	return &FileFeed{
		path:      path,
		freshness: freshness,
		logger:    logger,
		now:       time.Now,
	}
}

// Current returns the most recent detections, degraded to all-clear when
// the feed has gone stale. Staleness considers both when the file was
// last read and the writer's own timestamp inside the document.
func (f *FileFeed) Current() Detections {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readAt.IsZero() {
		return Detections{}
	}
	age := f.now().Sub(f.readAt)
	if f.writtenAt > 0 {
		written := time.Unix(0, int64(f.writtenAt*float64(time.Second)))
		if byWriter := f.now().Sub(written); byWriter > age {
			age = byWriter
		}
	}
	if age > f.freshness {
		return Detections{}
	}
	return f.latest
}

// Run watches the detections file until ctx is done. The file may not
// exist yet when the agent starts; the watch is on its directory so the
// first write is still observed.
func (f *FileFeed) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	f.reload()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				f.reload()
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logf("detections watch error: %v", watchErr)
		}
	}
}

func (f *FileFeed) reload() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logf("detections read failed: %v", err)
		}
		return
	}
	var doc feedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// Half-written file; the next write event will retry.
		return
	}
	f.mu.Lock()
	f.latest = Detections{Pothole: doc.Pothole != 0, Speedbump: doc.Bump != 0}
	f.writtenAt = doc.Timestamp
	f.readAt = f.now()
	f.mu.Unlock()
}

func (f *FileFeed) logf(format string, args ...any) {
	if f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
