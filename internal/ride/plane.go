package ride

import (
	"context"

	"github.com/wheelerlabs/ridesync/internal/remote"
)

// ControlPlane is everything the engine needs from the remote store.
// Production wires remotePlane; tests substitute fakes.
type ControlPlane interface {
	Resolve(ctx context.Context, account string, rideID int) (remote.Resolution, error)
	NextRideID(ctx context.Context, account string) (int, error)
	ReadControl(ctx context.Context, paths remote.PathSet) (remote.ControlStatus, error)
	ClearComputeFlag(ctx context.Context, paths remote.PathSet) error
	InitRide(ctx context.Context, paths remote.PathSet, startMillis int64) error
	UploadImage(ctx context.Context, paths remote.PathSet, timestampKey, localPath, contentType string) (string, error)
	ReplaceRideData(ctx context.Context, paths remote.PathSet, rows []Row) error
	PushLive(ctx context.Context, paths remote.PathSet, fields map[string]any) error
}

type remotePlane struct {
	client   *remote.Client
	resolver *remote.Resolver
}

func NewRemotePlane(client *remote.Client, resolver *remote.Resolver) ControlPlane {
	return &remotePlane{client: client, resolver: resolver}
}

func (p *remotePlane) Resolve(ctx context.Context, account string, rideID int) (remote.Resolution, error) {
	return p.resolver.Resolve(ctx, account, rideID)
}

func (p *remotePlane) NextRideID(ctx context.Context, account string) (int, error) {
	return p.client.NextRideID(ctx, account)
}

func (p *remotePlane) ReadControl(ctx context.Context, paths remote.PathSet) (remote.ControlStatus, error) {
	return p.client.ReadControl(ctx, paths.Control)
}

func (p *remotePlane) ClearComputeFlag(ctx context.Context, paths remote.PathSet) error {
	return p.client.SetControlFields(ctx, paths.Control, map[string]any{"calculate_model": false})
}

func (p *remotePlane) InitRide(ctx context.Context, paths remote.PathSet, startMillis int64) error {
	return p.client.InitRideStatus(ctx, paths.Control, startMillis)
}

func (p *remotePlane) UploadImage(ctx context.Context, paths remote.PathSet, timestampKey, localPath, contentType string) (string, error) {
	return p.client.UploadImage(ctx, paths.ImagePath(timestampKey), localPath, contentType)
}

// ReplaceRideData stores the full ride in one write. The rows go up as
// a JSON list in append order; duplicate timestamps stay distinct
// entries. A bulk PUT replaces whatever partial data an earlier failed
// finalize may have left behind.
func (p *remotePlane) ReplaceRideData(ctx context.Context, paths remote.PathSet, rows []Row) error {
	return p.client.Put(ctx, paths.RideData, rows)
}

func (p *remotePlane) PushLive(ctx context.Context, paths remote.PathSet, fields map[string]any) error {
	return p.client.Patch(ctx, paths.Live, fields)
}
