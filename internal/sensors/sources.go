// Package sensors turns on-device hardware helpers into a steady row
// stream for the ride engine. Motion and position readings come from
// small helper programs that print one JSON document per invocation,
// which keeps the vendor SDKs out of this process.
package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
)

type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// MotionReading is one accelerometer and gyroscope sample.
type MotionReading struct {
	AccX  float64 `json:"acc_x"`
	AccY  float64 `json:"acc_y"`
	AccZ  float64 `json:"acc_z"`
	GyroX float64 `json:"gyro_x"`
	GyroY float64 `json:"gyro_y"`
	GyroZ float64 `json:"gyro_z"`
}

// PositionFix is one GNSS sample. Speed is in km/h.
type PositionFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
}

// MotionSource yields the latest motion sample. The second return is
// false when no sample is available this instant.
type MotionSource interface {
	Read(ctx context.Context) (MotionReading, bool)
}

// PositionSource yields the latest position fix, false when the
// receiver has no fix.
type PositionSource interface {
	Read(ctx context.Context) (PositionFix, bool)
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExecMotionSource shells out to a helper that prints one motion JSON
// document and exits.
type ExecMotionSource struct {
	command []string
	logger  Logger
	runner  commandRunner
}

func NewExecMotionSource(command []string, logger Logger) (*ExecMotionSource, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("motion command is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &ExecMotionSource{command: command, logger: logger, runner: runCommand}, nil
}

func (s *ExecMotionSource) Read(ctx context.Context) (MotionReading, bool) {
	output, err := s.runner(ctx, s.command[0], s.command[1:]...)
	if err != nil {
		s.logger.Printf("sensors: motion read failed: %v", err)
		return MotionReading{}, false
	}
	var reading MotionReading
	if err := json.Unmarshal(output, &reading); err != nil {
		s.logger.Printf("sensors: motion output malformed: %v", err)
		return MotionReading{}, false
	}
	return reading, true
}

// ExecPositionSource shells out to a helper that prints one position
// JSON document and exits. A helper exit code of 1 means no fix and is
// not logged.
type ExecPositionSource struct {
	command []string
	logger  Logger
	runner  commandRunner
}

func NewExecPositionSource(command []string, logger Logger) (*ExecPositionSource, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("position command is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &ExecPositionSource{command: command, logger: logger, runner: runCommand}, nil
}

func (s *ExecPositionSource) Read(ctx context.Context) (PositionFix, bool) {
	output, err := s.runner(ctx, s.command[0], s.command[1:]...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return PositionFix{}, false
		}
		s.logger.Printf("sensors: position read failed: %v", err)
		return PositionFix{}, false
	}
	var fix PositionFix
	if err := json.Unmarshal(output, &fix); err != nil {
		s.logger.Printf("sensors: position output malformed: %v", err)
		return PositionFix{}, false
	}
	return fix, true
}
