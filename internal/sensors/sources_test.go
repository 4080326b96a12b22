package sensors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
)

func stubRunner(output []byte, err error) commandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return output, err
	}
}

func helperExitError(t *testing.T, code int) error {
	t.Helper()
	err := exec.Command("sh", "-c", fmt.Sprintf("exit %d", code)).Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("could not fabricate exit status %d: %v", code, err)
	}
	return err
}

func TestExecMotionSourceParsesReading(t *testing.T) {
	source, err := NewExecMotionSource([]string{"motion-helper"}, nil)
	if err != nil {
		t.Fatalf("new motion source failed: %v", err)
	}
	source.runner = stubRunner([]byte(`{"acc_x":0.1,"acc_y":-0.2,"acc_z":9.8,"gyro_x":1,"gyro_y":2,"gyro_z":3}`), nil)

	reading, ok := source.Read(context.Background())
	if !ok {
		t.Fatalf("expected reading")
	}
	if reading.AccZ != 9.8 || reading.GyroY != 2 {
		t.Fatalf("unexpected reading: %+v", reading)
	}
}

func TestExecMotionSourceFailureReadsAbsent(t *testing.T) {
	source, err := NewExecMotionSource([]string{"motion-helper"}, nil)
	if err != nil {
		t.Fatalf("new motion source failed: %v", err)
	}
	source.runner = stubRunner(nil, helperExitError(t, 2))
	if _, ok := source.Read(context.Background()); ok {
		t.Fatalf("expected absent reading on helper failure")
	}

	source.runner = stubRunner([]byte("not json"), nil)
	if _, ok := source.Read(context.Background()); ok {
		t.Fatalf("expected absent reading on malformed output")
	}
}

func TestExecPositionSourceNoFixExit(t *testing.T) {
	source, err := NewExecPositionSource([]string{"position-helper"}, nil)
	if err != nil {
		t.Fatalf("new position source failed: %v", err)
	}
	source.runner = stubRunner(nil, helperExitError(t, 1))
	if _, ok := source.Read(context.Background()); ok {
		t.Fatalf("expected no fix for exit status 1")
	}
}

func TestExecCameraReturnsPrintedPath(t *testing.T) {
	camera, err := NewExecCamera([]string{"capture-helper", "--fast"}, nil)
	if err != nil {
		t.Fatalf("new camera failed: %v", err)
	}
	var gotArgs []string
	camera.runner = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("/tmp/still-123.jpg\n"), nil
	}

	path, err := camera.Capture(context.Background(), 123)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if path != "/tmp/still-123.jpg" {
		t.Fatalf("unexpected path %q", path)
	}
	want := []string{"capture-helper", "--fast", "123"}
	if len(gotArgs) != len(want) {
		t.Fatalf("unexpected command %v", gotArgs)
	}
	for i := range want {
		if gotArgs[i] != want[i] {
			t.Fatalf("unexpected command %v", gotArgs)
		}
	}
}

func TestExecCameraEmptyOutputFails(t *testing.T) {
	camera, err := NewExecCamera([]string{"capture-helper"}, nil)
	if err != nil {
		t.Fatalf("new camera failed: %v", err)
	}
	camera.runner = stubRunner([]byte("  \n"), nil)
	if _, err := camera.Capture(context.Background(), 1); err == nil {
		t.Fatalf("expected error for empty capture output")
	}
}

func TestHTTPSpeedLimitSourceParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api_key"); got != "k1" {
			t.Errorf("expected api key, got %q", got)
		}
		if got := r.URL.Query().Get("points"); got == "" {
			t.Errorf("expected points parameter")
		}
		_, _ = w.Write([]byte(`{"speedLimits":[{"speedLimit":50}]}`))
	}))
	defer server.Close()

	source, err := NewHTTPSpeedLimitSource(server.URL, "k1", nil, nil)
	if err != nil {
		t.Fatalf("new speed limit source failed: %v", err)
	}
	limit, ok := source.Limit(context.Background(), 52.2, 21.0)
	if !ok || limit != 50 {
		t.Fatalf("expected limit 50, got %f (ok=%v)", limit, ok)
	}
}

func TestHTTPSpeedLimitSourceEmptyResultIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"speedLimits":[]}`))
	}))
	defer server.Close()

	source, err := NewHTTPSpeedLimitSource(server.URL, "", nil, nil)
	if err != nil {
		t.Fatalf("new speed limit source failed: %v", err)
	}
	if _, ok := source.Limit(context.Background(), 1, 2); ok {
		t.Fatalf("expected unknown limit for empty result")
	}
}

func TestHTTPSpeedLimitSourceServerErrorIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source, err := NewHTTPSpeedLimitSource(server.URL, "", nil, nil)
	if err != nil {
		t.Fatalf("new speed limit source failed: %v", err)
	}
	if _, ok := source.Limit(context.Background(), 1, 2); ok {
		t.Fatalf("expected unknown limit on server error")
	}
}
