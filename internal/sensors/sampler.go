package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/wheelerlabs/ridesync/internal/hazard"
	"github.com/wheelerlabs/ridesync/internal/ride"
)

const (
	defaultSampleInterval     = 33 * time.Millisecond
	defaultSpeedLimitInterval = time.Second
)

// HazardFeed supplies the latest camera classifier verdict.
type HazardFeed interface {
	Current() hazard.Detections
}

// Camera captures one still and returns its local path.
type Camera interface {
	Capture(ctx context.Context, timestampMillis int64) (string, error)
}

type SamplerOptions struct {
	Motion   MotionSource
	Position PositionSource
	Limits   SpeedLimitSource
	Hazards  HazardFeed
	Camera   Camera
	Sink     func(ride.Row)
	Logger   Logger

	SampleInterval     time.Duration
	SpeedLimitInterval time.Duration
	CaptureInterval    time.Duration
	Now                func() time.Time
}

// Sampler assembles telemetry rows at a fixed cadence. Fields whose
// source has nothing this instant stay absent rather than zero. The
// speed limit lookup is throttled independently of the sample rate and
// runs off the sample tick; rows carry the last known value until a
// fresh one lands.
type Sampler struct {
	motion   MotionSource
	position PositionSource
	limits   SpeedLimitSource
	hazards  HazardFeed
	camera   Camera
	sink     func(ride.Row)
	logger   Logger

	sampleInterval  time.Duration
	limitInterval   time.Duration
	captureInterval time.Duration
	now             func() time.Time
	spawn           func(func())

	mu          sync.Mutex
	lastLimit   *float64
	lastLimitAt time.Time
	limitBusy   bool

	lastCapture time.Time
}

func NewSampler(opts SamplerOptions) *Sampler {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	sampleInterval := opts.SampleInterval
	if sampleInterval <= 0 {
		sampleInterval = defaultSampleInterval
	}
	limitInterval := opts.SpeedLimitInterval
	if limitInterval <= 0 {
		limitInterval = defaultSpeedLimitInterval
	}
	captureInterval := opts.CaptureInterval
	if captureInterval <= 0 {
		captureInterval = time.Second
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Sampler{
		motion:          opts.Motion,
		position:        opts.Position,
		limits:          opts.Limits,
		hazards:         opts.Hazards,
		camera:          opts.Camera,
		sink:            opts.Sink,
		logger:          logger,
		sampleInterval:  sampleInterval,
		limitInterval:   limitInterval,
		captureInterval: captureInterval,
		now:             nowFn,
		spawn:           func(f func()) { go f() },
	}
}

// Run samples until the context ends.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sink(s.Sample(ctx))
		}
	}
}

// Sample builds one row from whatever the sources have right now.
func (s *Sampler) Sample(ctx context.Context) ride.Row {
	sampledAt := s.now()
	row := ride.Row{Timestamp: sampledAt.UnixMilli()}

	if s.motion != nil {
		if reading, ok := s.motion.Read(ctx); ok {
			row.AccX = ptr(reading.AccX)
			row.AccY = ptr(reading.AccY)
			row.AccZ = ptr(reading.AccZ)
			row.GyroX = ptr(reading.GyroX)
			row.GyroY = ptr(reading.GyroY)
			row.GyroZ = ptr(reading.GyroZ)
		}
	}

	var fix PositionFix
	var haveFix bool
	if s.position != nil {
		if fix, haveFix = s.position.Read(ctx); haveFix {
			row.Latitude = ptr(fix.Latitude)
			row.Longitude = ptr(fix.Longitude)
			row.Speed = ptr(fix.Speed)
		}
	}

	if s.limits != nil && haveFix {
		s.mu.Lock()
		due := !s.limitBusy && sampledAt.Sub(s.lastLimitAt) >= s.limitInterval
		if due {
			s.limitBusy = true
			s.lastLimitAt = sampledAt
		}
		s.mu.Unlock()
		if due {
			latitude, longitude := fix.Latitude, fix.Longitude
			s.spawn(func() { s.lookupLimit(ctx, latitude, longitude) })
		}
		s.mu.Lock()
		row.SpeedLimit = s.lastLimit
		s.mu.Unlock()
	}

	if s.hazards != nil {
		detections := s.hazards.Current()
		row.HazardSeverity = hazard.Severity(detections.Pothole, detections.Speedbump)
	}

	if s.camera != nil && sampledAt.Sub(s.lastCapture) >= s.captureInterval {
		s.lastCapture = sampledAt
		path, err := s.camera.Capture(ctx, row.Timestamp)
		if err != nil {
			s.logger.Printf("sensors: capture failed: %v", err)
		} else {
			row.LocalImagePath = path
		}
	}

	return row
}

// lookupLimit runs outside the sample tick so a slow HTTP response
// never holds up the sampling loop.
func (s *Sampler) lookupLimit(ctx context.Context, latitude, longitude float64) {
	limit, ok := s.limits.Limit(ctx, latitude, longitude)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitBusy = false
	if ok {
		s.lastLimit = ptr(limit)
	} else {
		s.lastLimit = nil
	}
}

func ptr(v float64) *float64 { return &v }
