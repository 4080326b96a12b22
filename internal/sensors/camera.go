package sensors

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ExecCamera shells out to a capture helper. The helper receives the
// sample timestamp in milliseconds as its last argument and prints the
// path of the saved still.
type ExecCamera struct {
	command []string
	logger  Logger
	runner  commandRunner
}

func NewExecCamera(command []string, logger Logger) (*ExecCamera, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("capture command is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &ExecCamera{command: command, logger: logger, runner: runCommand}, nil
}

func (c *ExecCamera) Capture(ctx context.Context, timestampMillis int64) (string, error) {
	args := append(append([]string(nil), c.command[1:]...), strconv.FormatInt(timestampMillis, 10))
	output, err := c.runner(ctx, c.command[0], args...)
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(string(output))
	if path == "" {
		return "", errors.New("capture helper printed no path")
	}
	return path, nil
}
