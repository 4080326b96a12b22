package ride

import (
	"context"
	"errors"
	"strings"

	"github.com/wheelerlabs/ridesync/internal/remote"
)

// Intent is a deduplicated view of the remote control document.
type Intent struct {
	Active bool
	Paths  remote.PathSet
	RideID int
}

// IntentHandler receives control events. HandleIntent fires only when
// the observed intent changes; Tick fires every poll so in-flight work
// can be retried regardless of dedup.
type IntentHandler interface {
	HandleIntent(ctx context.Context, intent Intent)
	HandleCompute(ctx context.Context)
	Tick(ctx context.Context)
}

type ControlPollerOptions struct {
	Account string
	Plane   ControlPlane
	Handler IntentHandler
	Logger  Logger

	// RideID reports the ride currently in progress, negative when
	// none. Idle polls probe the newest remote ride instead.
	RideID func() int
}

// ControlPoller reads the remote control document and turns it into an
// edge-triggered event stream. A failed read keeps the last observed
// intent; no event is emitted on errors.
type ControlPoller struct {
	account string
	plane   ControlPlane
	handler IntentHandler
	logger  Logger
	rideID  func() int

	seen         bool
	lastActive   bool
	computeArmed bool
}

func NewControlPoller(opts ControlPollerOptions) (*ControlPoller, error) {
	account := strings.TrimSpace(opts.Account)
	if account == "" {
		return nil, errors.New("account is required")
	}
	if opts.Plane == nil || opts.Handler == nil {
		return nil, errors.New("plane and handler are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	rideID := opts.RideID
	if rideID == nil {
		rideID = func() int { return -1 }
	}
	return &ControlPoller{
		account:      account,
		plane:        opts.Plane,
		handler:      opts.Handler,
		logger:       logger,
		rideID:       rideID,
		computeArmed: true,
	}, nil
}

// PollOnce performs one control read and dispatches events. The handler
// always gets a Tick, even when the read fails.
func (p *ControlPoller) PollOnce(ctx context.Context) error {
	defer p.handler.Tick(ctx)

	probeID := p.rideID()
	if probeID < 0 {
		// No ride in progress: the newest remote ride, if any, is
		// where a rider-initiated start would land.
		next, err := p.plane.NextRideID(ctx, p.account)
		if err != nil {
			p.logger.Printf("poller: ride listing failed: %v", err)
			return err
		}
		probeID = next - 1
	}

	resolution, err := p.plane.Resolve(ctx, p.account, probeID)
	if err != nil {
		if errors.Is(err, remote.ErrLayoutAmbiguous) {
			p.logger.Printf("poller: %v", err)
			return err
		}
		p.logger.Printf("poller: path resolution failed: %v", err)
		return err
	}
	if resolution.Status == remote.ResolutionNotFound {
		// Nothing to observe yet. Not an intent change.
		return nil
	}

	status, err := p.plane.ReadControl(ctx, resolution.Paths)
	if err != nil {
		p.logger.Printf("poller: control read failed, keeping last intent: %v", err)
		return err
	}

	if !p.seen || status.IsActive != p.lastActive {
		p.seen = true
		p.lastActive = status.IsActive
		p.handler.HandleIntent(ctx, Intent{
			Active: status.IsActive,
			Paths:  resolution.Paths,
			RideID: probeID,
		})
	}

	p.dispatchCompute(ctx, resolution.Paths, status.CalculateModel)
	return nil
}

// dispatchCompute turns the level-held calculate_model flag into a
// one-shot event. The flag is cleared remotely as soon as it is
// observed, before the handler runs; the clear is best-effort and the
// local arm bit alone guarantees single delivery, re-arming only after
// the flag is observed false.
func (p *ControlPoller) dispatchCompute(ctx context.Context, paths remote.PathSet, requested bool) {
	if !requested {
		p.computeArmed = true
		return
	}
	if !p.computeArmed {
		return
	}
	p.computeArmed = false
	if err := p.plane.ClearComputeFlag(ctx, paths); err != nil {
		p.logger.Printf("poller: compute flag clear failed: %v", err)
	}
	p.handler.HandleCompute(ctx)
}
