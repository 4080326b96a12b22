package hazard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

// exitError fabricates the helper's exit status without running a real
// process.
func exitError(t *testing.T, code int) error {
	t.Helper()
	cmd := exec.Command("sh", "-c", fmt.Sprintf("exit %d", code))
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != code {
		t.Fatalf("could not fabricate exit status %d: %v", code, err)
	}
	return err
}

func stubbedClassifier(output []byte, err error) *Classifier {
	classifier := NewClassifier("detect-helper", "model-1", "key-1")
	classifier.runner = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return output, err
	}
	return classifier
}

func TestDetectParsesPredictions(t *testing.T) {
	classifier := stubbedClassifier([]byte(`{"predictions":[{"class":"Pothole"},{"class":"speed-bump"}]}`), nil)
	detections, err := classifier.Detect(context.Background(), "frame.jpg")
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if !detections.Pothole || !detections.Speedbump {
		t.Fatalf("expected both detections, got %+v", detections)
	}
}

func TestDetectNoInputExitIsCleanNegative(t *testing.T) {
	classifier := stubbedClassifier(nil, exitError(t, 255))
	detections, err := classifier.Detect(context.Background(), "frame.jpg")
	if err != nil {
		t.Fatalf("expected clean negative for exit 255, got %v", err)
	}
	if detections != (Detections{}) {
		t.Fatalf("expected no detections, got %+v", detections)
	}
}

func TestDetectFailureIsDetectorError(t *testing.T) {
	classifier := stubbedClassifier(nil, exitError(t, 1))
	detections, err := classifier.Detect(context.Background(), "frame.jpg")
	if !errors.Is(err, ErrDetector) {
		t.Fatalf("expected ErrDetector, got %v", err)
	}
	if detections != (Detections{}) {
		t.Fatalf("expected degraded detections on failure, got %+v", detections)
	}
}

func TestDetectMalformedOutputIsDetectorError(t *testing.T) {
	classifier := stubbedClassifier([]byte("{oops"), nil)
	if _, err := classifier.Detect(context.Background(), "frame.jpg"); !errors.Is(err, ErrDetector) {
		t.Fatalf("expected ErrDetector for malformed output, got %v", err)
	}
}

func TestDetectUnconfiguredIsDetectorError(t *testing.T) {
	classifier := NewClassifier("", "", "")
	if _, err := classifier.Detect(context.Background(), "frame.jpg"); !errors.Is(err, ErrDetector) {
		t.Fatalf("expected ErrDetector when unconfigured, got %v", err)
	}
}
