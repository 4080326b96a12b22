package ride

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wheelerlabs/ridesync/internal/hazard"
	"github.com/wheelerlabs/ridesync/internal/remote"
)

type EngineState string

const (
	StateIdle       EngineState = "idle"
	StateActive     EngineState = "active"
	StateFinalizing EngineState = "finalizing"
)

const (
	defaultImageWorkers     = 4
	defaultImageContentType = "image/jpeg"
	defaultLivePushInterval = time.Second
)

// EngineStatus is a point-in-time snapshot served by the local status API.
type EngineStatus struct {
	State           EngineState `json:"state"`
	RideID          int         `json:"ride_id"`
	Layout          string      `json:"layout,omitempty"`
	BufferedRows    int         `json:"buffered_rows"`
	PendingRows     int         `json:"pending_rows"`
	ImageFailures   int         `json:"image_failures"`
	ReplaceFailures int         `json:"replace_failures"`
	LastError       string      `json:"last_error,omitempty"`
	LastFinalizedAt int64       `json:"last_finalized_at,omitempty"`
}

type EngineOptions struct {
	Account string
	Plane   ControlPlane
	Buffer  *TelemetryBuffer
	Log     RowLog
	Logger  Logger

	// Compute runs the on-demand model job triggered from the remote
	// control document. Nil disables the feature.
	Compute func(ctx context.Context) error

	ImageWorkers     int
	ImageContentType string
	LivePushInterval time.Duration
	Now              func() time.Time
}

// Engine owns the ride lifecycle. It moves Idle -> Active on a start
// intent, Active -> Finalizing on a stop intent, and Finalizing -> Idle
// only once the bulk ride data replace succeeds. A failed replace keeps
// the drained rows pinned in memory and in the row log; every tick
// retries with the identical row set.
type Engine struct {
	account      string
	plane        ControlPlane
	buffer       *TelemetryBuffer
	log          RowLog
	logger       Logger
	compute      func(ctx context.Context) error
	imageWorkers int
	contentType  string
	liveInterval time.Duration
	now          func() time.Time

	liveCh chan Row

	mu              sync.Mutex
	state           EngineState
	rideID          int
	paths           remote.PathSet
	pending         []Row
	restartWanted   bool
	imageFailures   int
	replaceFailures int
	lastErr         string
	lastFinalizedAt int64
	lastLivePush    time.Time
}

func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	workers := opts.ImageWorkers
	if workers <= 0 {
		workers = defaultImageWorkers
	}
	contentType := strings.TrimSpace(opts.ImageContentType)
	if contentType == "" {
		contentType = defaultImageContentType
	}
	interval := opts.LivePushInterval
	if interval <= 0 {
		interval = defaultLivePushInterval
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{
		account:      strings.TrimSpace(opts.Account),
		plane:        opts.Plane,
		buffer:       opts.Buffer,
		log:          opts.Log,
		logger:       logger,
		compute:      opts.Compute,
		imageWorkers: workers,
		contentType:  contentType,
		liveInterval: interval,
		now:          nowFn,
		liveCh:       make(chan Row, 1),
		state:        StateIdle,
		rideID:       -1,
	}
}

// Recover picks up rows a previous process appended but never
// finalized. It must run before the poller starts.
func (e *Engine) Recover(ctx context.Context) error {
	if e.log == nil {
		return nil
	}
	rideID, rows, ok, err := e.log.Pending()
	if err != nil {
		return err
	}
	if !ok || len(rows) == 0 {
		if ok {
			// An empty segment is leftover bookkeeping, not a ride.
			_ = e.log.Commit(rideID)
		}
		return nil
	}
	e.mu.Lock()
	e.state = StateFinalizing
	e.rideID = rideID
	e.pending = rows
	e.mu.Unlock()
	resolution, err := e.plane.Resolve(ctx, e.account, rideID)
	if err != nil {
		// Resolution failing at boot is routine on a vehicle without
		// connectivity yet. The ride stays pinned in Finalizing and
		// every tick retries resolution before the replace.
		e.setLastError(err)
		e.logger.Printf("engine: recovered %d rows for ride %d, path resolution pending: %v", len(rows), rideID, err)
		return nil
	}
	e.mu.Lock()
	e.paths = resolution.Paths
	e.mu.Unlock()
	e.logger.Printf("engine: recovered %d rows for ride %d, resuming finalize", len(rows), rideID)
	e.tryFinalize(ctx)
	return nil
}

// HandleIntent reacts to a change in the remote control document.
func (e *Engine) HandleIntent(ctx context.Context, intent Intent) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch {
	case intent.Active && state == StateIdle:
		e.startRide(ctx)
	case intent.Active && state == StateFinalizing:
		e.mu.Lock()
		e.restartWanted = true
		e.mu.Unlock()
	case !intent.Active && state == StateActive:
		e.beginFinalize(ctx)
	case !intent.Active && state == StateFinalizing:
		e.mu.Lock()
		e.restartWanted = false
		e.mu.Unlock()
	}
}

// HandleCompute finalizes a ride in progress, then runs the one-shot
// model job. The model operates on completed rides, so an active ride
// is closed out first.
func (e *Engine) HandleCompute(ctx context.Context) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state == StateActive {
		e.beginFinalize(ctx)
	}
	if e.compute == nil {
		e.logger.Printf("engine: compute requested but no compute job configured")
		return
	}
	if err := e.compute(ctx); err != nil {
		e.logger.Printf("engine: compute job failed: %v", err)
		e.setLastError(err)
	}
}

// Tick retries whatever the last transition left unfinished.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state == StateFinalizing {
		e.tryFinalize(ctx)
	}
}

func (e *Engine) startRide(ctx context.Context) {
	rideID, err := e.plane.NextRideID(ctx, e.account)
	if err != nil {
		e.logger.Printf("engine: ride id allocation failed: %v", err)
		e.setLastError(err)
		return
	}
	resolution, err := e.plane.Resolve(ctx, e.account, rideID)
	if err != nil {
		e.logger.Printf("engine: path resolution failed for ride %d: %v", rideID, err)
		e.setLastError(err)
		return
	}
	startMillis := e.now().UnixMilli()
	if resolution.Status == remote.ResolutionNotFound {
		if err := e.plane.InitRide(ctx, resolution.Paths, startMillis); err != nil {
			e.logger.Printf("engine: ride %d init failed: %v", rideID, err)
			e.setLastError(err)
			return
		}
	}
	if err := e.buffer.Begin(rideID); err != nil {
		e.logger.Printf("engine: buffer begin failed for ride %d: %v", rideID, err)
		e.setLastError(err)
		return
	}
	e.mu.Lock()
	e.state = StateActive
	e.rideID = rideID
	e.paths = resolution.Paths
	e.lastErr = ""
	e.mu.Unlock()
	e.logger.Printf("engine: ride %d started under layout %s", rideID, resolution.Paths.Layout)
}

func (e *Engine) beginFinalize(ctx context.Context) {
	rideID, rows := e.buffer.Drain()
	e.mu.Lock()
	e.state = StateFinalizing
	e.pending = rows
	e.rideID = rideID
	e.mu.Unlock()
	e.logger.Printf("engine: ride %d stopping with %d rows", rideID, len(rows))
	e.tryFinalize(ctx)
}

// tryFinalize uploads images then replaces the ride data node in one
// write. Rows whose image upload failed keep their local path and are
// still included. Only a successful replace moves the engine to Idle.
func (e *Engine) tryFinalize(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateFinalizing {
		e.mu.Unlock()
		return
	}
	rideID := e.rideID
	paths := e.paths
	rows := e.pending
	e.mu.Unlock()

	if paths.Control == "" {
		resolution, err := e.plane.Resolve(ctx, e.account, rideID)
		if err != nil {
			e.setLastError(err)
			e.logger.Printf("engine: ride %d path resolution still failing: %v", rideID, err)
			return
		}
		paths = resolution.Paths
		e.mu.Lock()
		e.paths = paths
		e.mu.Unlock()
	}

	rows = e.uploadImages(ctx, paths, rows)
	e.mu.Lock()
	e.pending = rows
	e.mu.Unlock()

	upload := make([]Row, 0, len(rows))
	for _, row := range rows {
		upload = append(upload, row.forUpload())
	}
	if err := e.plane.ReplaceRideData(ctx, paths, upload); err != nil {
		e.mu.Lock()
		e.replaceFailures++
		e.lastErr = err.Error()
		e.mu.Unlock()
		e.logger.Printf("engine: ride %d data replace failed, will retry: %v", rideID, err)
		return
	}
	if err := e.buffer.Commit(rideID); err != nil {
		e.logger.Printf("engine: ride %d row log commit failed: %v", rideID, err)
	}

	e.mu.Lock()
	e.state = StateIdle
	e.pending = nil
	e.rideID = -1
	e.lastErr = ""
	e.lastFinalizedAt = e.now().UnixMilli()
	restart := e.restartWanted
	e.restartWanted = false
	e.mu.Unlock()
	e.logger.Printf("engine: ride %d finalized with %d rows", rideID, len(rows))
	if restart {
		e.startRide(ctx)
	}
}

// uploadImages pushes pending stills with bounded concurrency. A row
// whose image is already uploaded is skipped; rewriting ImageKey makes
// retried finalizes cheap.
func (e *Engine) uploadImages(ctx context.Context, paths remote.PathSet, rows []Row) []Row {
	type job struct{ index int }
	jobs := make(chan job)
	var wg sync.WaitGroup

	out := make([]Row, len(rows))
	copy(out, rows)

	for i := 0; i < e.imageWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				row := out[j.index]
				key := remote.SanitizeKey(row.TimestampKey())
				ref, err := e.plane.UploadImage(ctx, paths, row.TimestampKey(), row.LocalImagePath, e.contentType)
				if err != nil {
					e.mu.Lock()
					e.imageFailures++
					e.mu.Unlock()
					e.logger.Printf("engine: image upload failed for key %s: %v", key, err)
					continue
				}
				row.ImageKey = ref
				row.LocalImagePath = ""
				out[j.index] = row
			}
		}()
	}
	for i, row := range out {
		if row.LocalImagePath == "" || row.ImageKey != "" {
			continue
		}
		jobs <- job{index: i}
	}
	close(jobs)
	wg.Wait()
	return out
}

// PushSample feeds one sampled row into the active ride and schedules a
// best-effort live update. Samples outside an active ride are dropped.
// The live slot holds one row; a newer sample displaces an unconsumed
// older one.
func (e *Engine) PushSample(row Row) {
	if !e.buffer.Active() {
		return
	}
	e.buffer.Append(row)
	for {
		select {
		case e.liveCh <- row:
			return
		default:
		}
		select {
		case <-e.liveCh:
		default:
		}
	}
}

// Run pushes rate-limited live updates until the context ends. Live
// pushes are advisory: failures are logged and the update dropped.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-e.liveCh:
			e.maybePushLive(ctx, row)
		}
	}
}

func (e *Engine) maybePushLive(ctx context.Context, row Row) {
	e.mu.Lock()
	paths := e.paths
	active := e.state == StateActive
	last := e.lastLivePush
	e.mu.Unlock()
	if !active || e.now().Sub(last) < e.liveInterval {
		return
	}
	if err := e.plane.PushLive(ctx, paths, liveFields(row)); err != nil {
		e.logger.Printf("engine: live push failed: %v", err)
		return
	}
	e.mu.Lock()
	e.lastLivePush = e.now()
	e.mu.Unlock()
}

// liveFields shapes one row into the rider_data document the companion
// app reads: current_speed, speed_limit, an mpu block, and the active
// warnings map. The warnings map is always present so a patch clears
// stale warnings.
func liveFields(row Row) map[string]any {
	fields := map[string]any{}
	if row.Speed != nil {
		fields["current_speed"] = *row.Speed
	}
	if row.SpeedLimit != nil {
		fields["speed_limit"] = *row.SpeedLimit
	}
	warnings := map[string]any{}
	if warning := hazard.SpeedWarning(row.Speed, row.SpeedLimit, row.Timestamp); warning != nil {
		warnings[hazard.WarningKey(row.Timestamp)] = warning
	}
	fields["active_warnings_list"] = warnings
	if row.AccX != nil && row.GyroZ != nil {
		fields["mpu"] = map[string]any{
			"acc_x":     *row.AccX,
			"acc_y":     *row.AccY,
			"acc_z":     *row.AccZ,
			"gyro_x":    *row.GyroX,
			"gyro_y":    *row.GyroY,
			"gyro_z":    *row.GyroZ,
			"timestamp": row.Timestamp,
		}
	}
	return fields
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

// CurrentRideID reports the ride the poller should probe, -1 when idle.
func (e *Engine) CurrentRideID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rideID
}

func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		State:           e.state,
		RideID:          e.rideID,
		Layout:          e.paths.Layout,
		BufferedRows:    e.buffer.Len(),
		PendingRows:     len(e.pending),
		ImageFailures:   e.imageFailures,
		ReplaceFailures: e.replaceFailures,
		LastError:       e.lastErr,
		LastFinalizedAt: e.lastFinalizedAt,
	}
}
