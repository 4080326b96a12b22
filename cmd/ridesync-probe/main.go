// Command ridesync-probe is an operator tool: it resolves which remote
// layout an account lives under, prints the control intent, and can run
// the hazard classifier against a local image.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wheelerlabs/ridesync/internal/hazard"
	"github.com/wheelerlabs/ridesync/internal/remote"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("base-url", strings.TrimSpace(os.Getenv("RIDESYNC_BASE_URL")), "remote store base URL")
	account := flag.String("account", strings.TrimSpace(os.Getenv("RIDESYNC_ACCOUNT")), "account ID")
	token := flag.String("token", strings.TrimSpace(os.Getenv("RIDESYNC_TOKEN")), "static auth token")
	rideID := flag.Int("ride", -1, "ride ID to probe (-1 probes the newest ride)")
	watch := flag.Duration("watch", 0, "re-probe at this interval until interrupted")
	imagePath := flag.String("image", "", "run the hazard classifier on this image instead of probing")
	classifyCommand := flag.String("classify-command", envOrDefault("RIDESYNC_CLASSIFY_COMMAND", "ridesync-classify"), "classifier helper command")
	modelID := flag.String("model", strings.TrimSpace(os.Getenv("RIDESYNC_MODEL_ID")), "classifier model ID")
	modelKey := flag.String("model-key", strings.TrimSpace(os.Getenv("RIDESYNC_MODEL_KEY")), "classifier API key")
	timeout := flag.Duration("timeout", 15*time.Second, "per-probe timeout")
	flag.Parse()

	if strings.TrimSpace(*imagePath) != "" {
		runClassifier(*classifyCommand, *modelID, *modelKey, *imagePath, *timeout)
		return
	}

	if strings.TrimSpace(*baseURL) == "" {
		log.Fatalf("base URL is required (--base-url or RIDESYNC_BASE_URL)")
	}
	if strings.TrimSpace(*account) == "" {
		log.Fatalf("account is required (--account or RIDESYNC_ACCOUNT)")
	}

	client := remote.NewClient(remote.ClientOptions{
		BaseURL:       *baseURL,
		TokenProvider: remote.StaticToken(*token),
	})
	resolver, err := remote.NewResolver(client)
	if err != nil {
		log.Fatalf("resolver setup failed: %v", err)
	}

	probe := func() {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		if err := probeOnce(ctx, client, resolver, *account, *rideID); err != nil {
			log.Printf("probe failed: %v", err)
		}
	}

	probe()
	if *watch <= 0 {
		return
	}
	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for range ticker.C {
		probe()
	}
}

func probeOnce(ctx context.Context, client *remote.Client, resolver *remote.Resolver, account string, rideID int) error {
	probeID := rideID
	if probeID < 0 {
		next, err := client.NextRideID(ctx, account)
		if err != nil {
			return err
		}
		probeID = next - 1
		fmt.Printf("next ride id: %d\n", next)
	}

	resolution, err := resolver.Resolve(ctx, account, probeID)
	if err != nil {
		var ambiguous *remote.AmbiguousLayoutError
		if errors.As(err, &ambiguous) {
			fmt.Printf("AMBIGUOUS layout %s at %s: %s\n", ambiguous.Layout, ambiguous.Path, ambiguous.Reason)
			return nil
		}
		return err
	}

	fmt.Printf("layout:    %s (%s)\n", resolution.Paths.Layout, resolution.Status)
	fmt.Printf("control:   %s\n", resolution.Paths.Control)
	fmt.Printf("ride data: %s\n", resolution.Paths.RideData)
	fmt.Printf("images:    %s\n", resolution.Paths.Images)
	fmt.Printf("live:      %s\n", resolution.Paths.Live)

	if resolution.Status != remote.ResolutionResolved {
		fmt.Println("control document: absent")
		return nil
	}
	status, err := client.ReadControl(ctx, resolution.Paths.Control)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("control document: %s\n", encoded)
	return nil
}

func runClassifier(command, modelID, apiKey, imagePath string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	classifier := hazard.NewClassifier(command, modelID, apiKey)
	detections, err := classifier.Detect(ctx, imagePath)
	if err != nil {
		log.Fatalf("classification failed: %v", err)
	}
	fmt.Printf("pothole:   %t\n", detections.Pothole)
	fmt.Printf("speedbump: %t\n", detections.Speedbump)
	fmt.Printf("severity:  %d\n", hazard.Severity(detections.Pothole, detections.Speedbump))
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
