package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wheelerlabs/ridesync/internal/hazard"
	"github.com/wheelerlabs/ridesync/internal/httpapi"
	"github.com/wheelerlabs/ridesync/internal/remote"
	"github.com/wheelerlabs/ridesync/internal/ride"
	"github.com/wheelerlabs/ridesync/internal/sensors"
)

func main() {
	// .env keeps device credentials off the command line. Missing file
	// is fine; the environment wins over file values either way.
	_ = godotenv.Load()

	baseURL := flag.String("base-url", strings.TrimSpace(os.Getenv("RIDESYNC_BASE_URL")), "remote store base URL")
	account := flag.String("account", strings.TrimSpace(os.Getenv("RIDESYNC_ACCOUNT")), "account ID")
	apiKey := flag.String("api-key", strings.TrimSpace(os.Getenv("RIDESYNC_API_KEY")), "auth API key")
	email := flag.String("email", strings.TrimSpace(os.Getenv("RIDESYNC_EMAIL")), "auth email")
	password := flag.String("password", os.Getenv("RIDESYNC_PASSWORD"), "auth password")
	staticToken := flag.String("token", strings.TrimSpace(os.Getenv("RIDESYNC_TOKEN")), "static auth token (bypasses password auth)")
	rowLogDSN := flag.String("row-log", envOrDefault("RIDESYNC_ROW_LOG", "file://./ridesync-rows"), "row log DSN (file://, sqlite://, postgres://, memory://)")
	pollInterval := flag.Duration("poll-interval", durationEnv("RIDESYNC_POLL_INTERVAL", 2*time.Second), "control poll interval")
	pollJitter := flag.Float64("poll-jitter", floatEnv("RIDESYNC_POLL_JITTER", 0.2), "control poll jitter ratio (0.0-1.0)")
	sampleInterval := flag.Duration("sample-interval", durationEnv("RIDESYNC_SAMPLE_INTERVAL", 33*time.Millisecond), "telemetry sample interval")
	detectionsFile := flag.String("detections-file", envOrDefault("RIDESYNC_DETECTIONS_FILE", "camera_warnings.json"), "classifier detections file")
	detectionsFreshness := flag.Duration("detections-freshness", durationEnv("RIDESYNC_DETECTIONS_FRESHNESS", 3*time.Second), "detections staleness window")
	motionCommand := flag.String("motion-command", strings.TrimSpace(os.Getenv("RIDESYNC_MOTION_COMMAND")), "motion helper command")
	positionCommand := flag.String("position-command", strings.TrimSpace(os.Getenv("RIDESYNC_POSITION_COMMAND")), "position helper command")
	captureCommand := flag.String("capture-command", strings.TrimSpace(os.Getenv("RIDESYNC_CAPTURE_COMMAND")), "camera capture helper command")
	computeCommand := flag.String("compute-command", strings.TrimSpace(os.Getenv("RIDESYNC_COMPUTE_COMMAND")), "model compute helper command")
	speedLimitURL := flag.String("speed-limit-url", strings.TrimSpace(os.Getenv("RIDESYNC_SPEED_LIMIT_URL")), "speed limit service URL")
	speedLimitKey := flag.String("speed-limit-key", strings.TrimSpace(os.Getenv("RIDESYNC_SPEED_LIMIT_KEY")), "speed limit service API key")
	listenAddr := flag.String("listen", envOrDefault("RIDESYNC_LISTEN", "127.0.0.1:8787"), "local status listen address")
	statusToken := flag.String("status-token", strings.TrimSpace(os.Getenv("RIDESYNC_STATUS_TOKEN")), "bearer token for the status API")
	imageWorkers := flag.Int("image-workers", intEnv("RIDESYNC_IMAGE_WORKERS", 4), "concurrent image uploads during finalize")
	flag.Parse()

	if strings.TrimSpace(*baseURL) == "" {
		log.Fatalf("base URL is required (--base-url or RIDESYNC_BASE_URL)")
	}
	if strings.TrimSpace(*account) == "" {
		log.Fatalf("account is required (--account or RIDESYNC_ACCOUNT)")
	}
	if *pollInterval <= 0 {
		*pollInterval = 2 * time.Second
	}
	*pollJitter = clampJitterRatio(*pollJitter)

	tokenProvider, err := buildTokenProvider(*staticToken, *apiKey, *email, *password)
	if err != nil {
		log.Fatalf("auth setup failed: %v", err)
	}

	client := remote.NewClient(remote.ClientOptions{
		BaseURL:       *baseURL,
		TokenProvider: tokenProvider,
	})
	resolver, err := remote.NewResolver(client)
	if err != nil {
		log.Fatalf("resolver setup failed: %v", err)
	}
	plane := ride.NewRemotePlane(client, resolver)

	rowLog, err := ride.BuildRowLogFromDSN(*rowLogDSN)
	if err != nil {
		log.Fatalf("row log setup failed: %v", err)
	}
	defer rowLog.Close()

	buffer := ride.NewTelemetryBuffer(rowLog, log.Default())
	feed := hazard.NewFileFeed(*detectionsFile, *detectionsFreshness, log.Default())

	engine := ride.NewEngine(ride.EngineOptions{
		Account:      *account,
		Plane:        plane,
		Buffer:       buffer,
		Log:          rowLog,
		Logger:       log.Default(),
		Compute:      computeRunner(*computeCommand),
		ImageWorkers: *imageWorkers,
	})

	poller, err := ride.NewControlPoller(ride.ControlPollerOptions{
		Account: *account,
		Plane:   plane,
		Handler: engine,
		Logger:  log.Default(),
		RideID:  engine.CurrentRideID,
	})
	if err != nil {
		log.Fatalf("poller setup failed: %v", err)
	}

	sampler := sensors.NewSampler(sensors.SamplerOptions{
		Motion:         buildMotionSource(*motionCommand),
		Position:       buildPositionSource(*positionCommand),
		Limits:         buildSpeedLimitSource(*speedLimitURL, *speedLimitKey),
		Hazards:        feed,
		Camera:         buildCamera(*captureCommand),
		Sink:           engine.PushSample,
		Logger:         log.Default(),
		SampleInterval: *sampleInterval,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Recover(rootCtx); err != nil {
		log.Printf("recovery check failed: %v", err)
	}

	go func() {
		if err := feed.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Printf("detections feed stopped: %v", err)
		}
	}()
	go sampler.Run(rootCtx)
	go engine.Run(rootCtx)

	statusServer := &http.Server{
		Addr:    *listenAddr,
		Handler: httpapi.NewServer(engine, httpapi.ServerConfig{AuthToken: *statusToken}, log.Default()),
	}
	go func() {
		log.Printf("status API listening on %s", *listenAddr)
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("status API stopped: %v", err)
		}
	}()

	poll := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *pollInterval*3)
		defer cancel()
		_ = poller.PollOnce(ctx)
	}

	poll()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*pollInterval, *pollJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("shutting down: %v", rootCtx.Err())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = statusServer.Shutdown(shutdownCtx)
			// Give an in-flight finalize one last chance before exit.
			engine.Tick(shutdownCtx)
			return
		case <-timer.C:
			poll()
			timer.Reset(jitteredIntervalWithSample(*pollInterval, *pollJitter, rng.Float64()))
		}
	}
}

func buildTokenProvider(staticToken, apiKey, email, password string) (remote.TokenProvider, error) {
	if strings.TrimSpace(staticToken) != "" {
		return remote.StaticToken(staticToken), nil
	}
	auth, err := remote.NewPasswordAuth(remote.PasswordAuthOptions{
		APIKey:   apiKey,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	return auth.Token, nil
}

func buildMotionSource(command string) sensors.MotionSource {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	source, err := sensors.NewExecMotionSource(fields, log.Default())
	if err != nil {
		log.Fatalf("motion source setup failed: %v", err)
	}
	return source
}

func buildPositionSource(command string) sensors.PositionSource {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	source, err := sensors.NewExecPositionSource(fields, log.Default())
	if err != nil {
		log.Fatalf("position source setup failed: %v", err)
	}
	return source
}

func buildCamera(command string) sensors.Camera {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	camera, err := sensors.NewExecCamera(fields, log.Default())
	if err != nil {
		log.Fatalf("camera setup failed: %v", err)
	}
	return camera
}

func buildSpeedLimitSource(baseURL, apiKey string) sensors.SpeedLimitSource {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	source, err := sensors.NewHTTPSpeedLimitSource(baseURL, apiKey, nil, log.Default())
	if err != nil {
		log.Fatalf("speed limit source setup failed: %v", err)
	}
	return source
}

func computeRunner(command string) func(ctx context.Context) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		output, err := exec.CommandContext(ctx, fields[0], fields[1:]...).CombinedOutput()
		if err != nil {
			log.Printf("compute job output: %s", strings.TrimSpace(string(output)))
			return err
		}
		return nil
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return base
	}
	if jitterRatio <= 0 {
		return base
	}
	span := float64(base) * jitterRatio
	offset := (sample*2 - 1) * span
	return time.Duration(float64(base) + offset)
}
