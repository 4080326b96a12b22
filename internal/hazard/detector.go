package hazard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// exit status the classifier uses to signal it was given no input frame
const exitNoInput = 255

var ErrDetector = errors.New("detector failure")

// DetectorError marks a classifier invocation that failed outright, as
// opposed to a clean negative result. Callers map it to "undetected" for
// that detector but must not conflate it with a real all-clear.
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

func (e *DetectorError) Is(target error) bool { return target == ErrDetector }

// Detections is the fused per-frame result of both detectors.
type Detections struct {
	Pothole   bool
	Speedbump bool
}

// Classifier invokes the external image-hazard model as a black box:
// one process run per still image, structured predictions on stdout.
type Classifier struct {
	command string
	modelID string
	apiKey  string
	runner  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewClassifier(command, modelID, apiKey string) *Classifier {
	return &Classifier{
		command: strings.TrimSpace(command),
		modelID: strings.TrimSpace(modelID),
		apiKey:  apiKey,
		runner: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

type prediction struct {
	Class string `json:"class"`
}

type classifierOutput struct {
	Predictions []prediction `json:"predictions"`
}

// Detect classifies one image. Exit status 255 means the classifier was
// given no input and reads as a clean negative; any other non-zero exit
// or malformed output is a DetectorError and the corresponding detections
// degrade to false.
func (c *Classifier) Detect(ctx context.Context, imagePath string) (Detections, error) {
	if c == nil || c.command == "" {
		return Detections{}, &DetectorError{Detector: "classifier", Err: fmt.Errorf("not configured")}
	}
	out, err := c.runner(ctx, c.command, "--model", c.modelID, "--api-key", c.apiKey, imagePath)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitNoInput {
			return Detections{}, nil
		}
		return Detections{}, &DetectorError{Detector: "classifier", Err: err}
	}
	var parsed classifierOutput
	if jsonErr := json.Unmarshal(out, &parsed); jsonErr != nil {
		return Detections{}, &DetectorError{Detector: "classifier", Err: fmt.Errorf("malformed output: %w", jsonErr)}
	}
	var result Detections
	for _, p := range parsed.Predictions {
		class := strings.ToLower(p.Class)
		if strings.Contains(class, "pothole") {
			result.Pothole = true
		}
		if strings.Contains(class, "speed") {
			result.Speedbump = true
		}
	}
	return result, nil
}
