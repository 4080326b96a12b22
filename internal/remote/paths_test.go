package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// documentStore serves canned JSON documents keyed by node path, the way
// the remote store answers GETs: unknown nodes read as null.
type documentStore map[string]string

func (s documentStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if doc, ok := s[r.URL.Path]; ok {
		_, _ = w.Write([]byte(doc))
		return
	}
	_, _ = w.Write([]byte("null"))
}

func testResolver(t *testing.T, store documentStore) *Resolver {
	t.Helper()
	server := httptest.NewServer(store)
	t.Cleanup(server.Close)
	resolver, err := NewResolver(NewClient(ClientOptions{BaseURL: server.URL}))
	if err != nil {
		t.Fatalf("new resolver failed: %v", err)
	}
	return resolver
}

func TestResolvePrefersRideScopedLayout(t *testing.T) {
	resolver := testResolver(t, documentStore{
		"/users/u1/rides/3/rider_control/ride_status.json": `{"is_active":true,"calculate_model":false}`,
		"/users/u1/rider_control/ride_status.json":         `{"is_active":false}`,
	})

	resolution, err := resolver.Resolve(context.Background(), "u1", 3)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Status != ResolutionResolved {
		t.Fatalf("expected resolved, got %s", resolution.Status)
	}
	if resolution.Paths.Layout != LayoutRideScoped {
		t.Fatalf("expected ride-scoped layout, got %s", resolution.Paths.Layout)
	}
	if want := "users/u1/rides/3/ride_data"; resolution.Paths.RideData != want {
		t.Fatalf("expected ride data path %q, got %q", want, resolution.Paths.RideData)
	}
}

func TestResolveFallsThroughMissingLayouts(t *testing.T) {
	resolver := testResolver(t, documentStore{
		"/u1/ride_control/ride_status.json": `{"is_active":true}`,
	})

	resolution, err := resolver.Resolve(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Paths.Layout != LayoutLegacyTop {
		t.Fatalf("expected legacy top layout, got %s", resolution.Paths.Layout)
	}
}

func TestResolveStopsOnMalformedControlDocument(t *testing.T) {
	resolver := testResolver(t, documentStore{
		// Higher-priority layout holds junk; the valid legacy document
		// below it must not be reached.
		"/users/u1/rider_control/ride_status.json": `{"is_active":"yes"}`,
		"/u1/ride_control/ride_status.json":        `{"is_active":true}`,
	})

	_, err := resolver.Resolve(context.Background(), "u1", -1)
	if !errors.Is(err, ErrLayoutAmbiguous) {
		t.Fatalf("expected ErrLayoutAmbiguous, got %v", err)
	}
	var ambiguous *AmbiguousLayoutError
	if !errors.As(err, &ambiguous) || ambiguous.Layout != LayoutLegacyUser {
		t.Fatalf("expected ambiguity reported on legacy user layout, got %v", err)
	}
}

func TestResolveNotFoundStillCarriesWritablePaths(t *testing.T) {
	resolver := testResolver(t, documentStore{})

	resolution, err := resolver.Resolve(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Status != ResolutionNotFound {
		t.Fatalf("expected not found, got %s", resolution.Status)
	}
	if resolution.Paths.Layout != LayoutRideScoped {
		t.Fatalf("expected ride-scoped fallback paths, got %s", resolution.Paths.Layout)
	}
	if want := "users/u1/rides/5/rider_control/ride_status"; resolution.Paths.Control != want {
		t.Fatalf("expected control path %q, got %q", want, resolution.Paths.Control)
	}
}

func TestResolveSkipsRideScopedWithoutRide(t *testing.T) {
	resolver := testResolver(t, documentStore{})

	resolution, err := resolver.Resolve(context.Background(), "u1", -1)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Paths.Layout != LayoutLegacyUser {
		t.Fatalf("expected legacy user fallback without a ride, got %s", resolution.Paths.Layout)
	}
}

func TestSanitizeKeyReplacesDots(t *testing.T) {
	if got := SanitizeKey(" 1699999999.123 "); got != "1699999999_123" {
		t.Fatalf("expected sanitized key 1699999999_123, got %q", got)
	}
}

func TestImagePathSanitizesKey(t *testing.T) {
	paths := PathSet{Images: "users/u1/rides/0/ride_images_base64"}
	want := "users/u1/rides/0/ride_images_base64/17_5"
	if got := paths.ImagePath("17.5"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
