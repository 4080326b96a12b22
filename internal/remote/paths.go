package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrLayoutAmbiguous = errors.New("layout ambiguous")

// AmbiguousLayoutError reports a control document that exists at a
// higher-priority layout but does not have the expected shape. Falling
// through silently could target another deployment's legacy data, so
// resolution stops here.
type AmbiguousLayoutError struct {
	Layout string
	Path   string
	Reason string
}

func (e *AmbiguousLayoutError) Error() string {
	return fmt.Sprintf("layout %s has malformed control document at %s: %s", e.Layout, e.Path, e.Reason)
}

func (e *AmbiguousLayoutError) Is(target error) bool {
	return target == ErrLayoutAmbiguous
}

// PathSet is the concrete set of remote locations for one (account, ride)
// pair under a single layout. Engines cache it for the ride's lifetime.
type PathSet struct {
	Layout   string
	Control  string
	RideData string
	Images   string
	Live     string
}

// ImagePath returns the node for one image blob. Keys are sanitized the
// way existing writers do: dots become underscores.
func (p PathSet) ImagePath(timestampKey string) string {
	return p.Images + "/" + SanitizeKey(timestampKey)
}

// SanitizeKey makes a value safe to use as a document key.
func SanitizeKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), ".", "_")
}

const (
	LayoutRideScoped  = "ride_scoped"
	LayoutLegacyUser  = "legacy_user"
	LayoutLegacyTop   = "legacy_top"
	unscopedRide      = -1
	controlSchemaName = "ride_status.schema.json"
)

// Control documents must at minimum carry a boolean is_active. Anything
// else present at a control path is malformed, not merely stale.
const controlSchema = `{
	"type": "object",
	"properties": {
		"is_active": {"type": "boolean"},
		"calculate_model": {"type": "boolean"},
		"start_timestamp": {"type": "number"}
	},
	"required": ["is_active"]
}`

type layoutTemplate struct {
	name  string
	paths func(account string, rideID int) (PathSet, bool)
}

// Preference order: ride-scoped first, then the legacy per-user layout,
// then the legacy top-level layout still live on the oldest deployments.
var layoutTemplates = []layoutTemplate{
	{
		name: LayoutRideScoped,
		paths: func(account string, rideID int) (PathSet, bool) {
			if rideID < 0 {
				return PathSet{}, false
			}
			ride := strconv.Itoa(rideID)
			return PathSet{
				Layout:   LayoutRideScoped,
				Control:  "users/" + account + "/rides/" + ride + "/rider_control/ride_status",
				RideData: "users/" + account + "/rides/" + ride + "/ride_data",
				Images:   "users/" + account + "/rides/" + ride + "/ride_images_base64",
				Live:     "users/" + account + "/rider_data",
			}, true
		},
	},
	{
		name: LayoutLegacyUser,
		paths: func(account string, rideID int) (PathSet, bool) {
			return PathSet{
				Layout:   LayoutLegacyUser,
				Control:  "users/" + account + "/rider_control/ride_status",
				RideData: "users/" + account + "/ride_data",
				Images:   "users/" + account + "/ride_images",
				Live:     "users/" + account + "/rider_data",
			}, true
		},
	},
	{
		name: LayoutLegacyTop,
		paths: func(account string, rideID int) (PathSet, bool) {
			return PathSet{
				Layout:   LayoutLegacyTop,
				Control:  account + "/ride_control/ride_status",
				RideData: account + "/ride_data",
				Images:   account + "/ride_images",
				Live:     account + "/rider_data",
			}, true
		},
	},
}

type ResolutionStatus string

const (
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionNotFound ResolutionStatus = "not_found"
)

// Resolution is the outcome of an ordered layout probe. When no layout
// holds a control document, Paths still carries the highest-priority
// applicable layout so the caller has somewhere to create one.
type Resolution struct {
	Status ResolutionStatus
	Paths  PathSet
}

// Resolver probes the known layouts in preference order and reports which
// one is authoritative for an account. It never synthesizes fields: a
// resolved path set comes entirely from the matching template.
type Resolver struct {
	client *Client
	schema *jsonschema.Schema
}

func NewResolver(client *Client) (*Resolver, error) {
	if client == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(controlSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(controlSchemaName, doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(controlSchemaName)
	if err != nil {
		return nil, err
	}
	return &Resolver{client: client, schema: schema}, nil
}

// Resolve probes each layout's control path in order. The first layout
// with a structurally valid control document wins. An explicit not-found
// falls through to the next layout; a malformed document surfaces an
// AmbiguousLayoutError and stops resolution. Pass a negative rideID when
// no ride is active; the ride-scoped layout is then skipped.
func (r *Resolver) Resolve(ctx context.Context, account string, rideID int) (Resolution, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return Resolution{}, fmt.Errorf("account is required")
	}
	var fallback *PathSet
	for _, layout := range layoutTemplates {
		paths, ok := layout.paths(account, rideID)
		if !ok {
			continue
		}
		if fallback == nil {
			copied := paths
			fallback = &copied
		}
		body, err := r.client.GetRaw(ctx, paths.Control)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Resolution{}, err
		}
		if reason := r.validateControl(body); reason != "" {
			return Resolution{}, &AmbiguousLayoutError{
				Layout: layout.name,
				Path:   paths.Control,
				Reason: reason,
			}
		}
		return Resolution{Status: ResolutionResolved, Paths: paths}, nil
	}
	return Resolution{Status: ResolutionNotFound, Paths: *fallback}, nil
}

func (r *Resolver) validateControl(body []byte) string {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return "not a JSON document"
	}
	if err := r.schema.Validate(doc); err != nil {
		return err.Error()
	}
	return ""
}
