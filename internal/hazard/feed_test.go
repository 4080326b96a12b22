package hazard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFeedDocument(t *testing.T, path string, pothole, bump int, writtenAt time.Time) {
	t.Helper()
	doc := fmt.Sprintf(`{"pothole":%d,"bump":%d,"timestamp":%f}`, pothole, bump, float64(writtenAt.UnixNano())/float64(time.Second))
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write detections file failed: %v", err)
	}
}

func TestFileFeedPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera_warnings.json")
	feed := NewFileFeed(path, 10*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Run(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFeedDocument(t, path, 1, 0, time.Now())

	deadline := time.After(2 * time.Second)
	for {
		if feed.Current() == (Detections{Pothole: true}) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("feed never observed the write, current=%+v", feed.Current())
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestFileFeedStaleEntriesReadAllClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera_warnings.json")
	feed := NewFileFeed(path, 3*time.Second, nil)

	current := time.Unix(1_700_000_000, 0)
	feed.now = func() time.Time { return current }

	writeFeedDocument(t, path, 1, 1, current)
	feed.reload()
	if got := feed.Current(); got != (Detections{Pothole: true, Speedbump: true}) {
		t.Fatalf("expected fresh detections, got %+v", got)
	}

	current = current.Add(4 * time.Second)
	if got := feed.Current(); got != (Detections{}) {
		t.Fatalf("expected stale feed to read all-clear, got %+v", got)
	}
}

func TestFileFeedStaleWriterTimestampReadsAllClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera_warnings.json")
	feed := NewFileFeed(path, 3*time.Second, nil)

	current := time.Unix(1_700_000_000, 0)
	feed.now = func() time.Time { return current }

	// The classifier wrote this long before we read it.
	writeFeedDocument(t, path, 1, 0, current.Add(-10*time.Second))
	feed.reload()
	if got := feed.Current(); got != (Detections{}) {
		t.Fatalf("expected old writer timestamp to read all-clear, got %+v", got)
	}
}

func TestFileFeedToleratesHalfWrittenDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera_warnings.json")
	feed := NewFileFeed(path, time.Minute, nil)

	writeFeedDocument(t, path, 0, 1, time.Now())
	feed.reload()

	if err := os.WriteFile(path, []byte(`{"pothole":1,"bu`), 0o644); err != nil {
		t.Fatalf("write truncated file failed: %v", err)
	}
	feed.reload()
	if got := feed.Current(); got != (Detections{Speedbump: true}) {
		t.Fatalf("expected last good value to survive a torn write, got %+v", got)
	}
}

func TestFileFeedEmptyBeforeFirstRead(t *testing.T) {
	feed := NewFileFeed(filepath.Join(t.TempDir(), "camera_warnings.json"), time.Minute, nil)
	if got := feed.Current(); got != (Detections{}) {
		t.Fatalf("expected all-clear before first read, got %+v", got)
	}
}
