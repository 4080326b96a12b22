package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SpeedLimitSource yields the posted limit for a coordinate, false when
// unknown.
type SpeedLimitSource interface {
	Limit(ctx context.Context, latitude, longitude float64) (float64, bool)
}

// HTTPSpeedLimitSource queries a road-data service for the posted speed
// limit at a point.
type HTTPSpeedLimitSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     Logger
}

type speedLimitResponse struct {
	SpeedLimits []struct {
		SpeedLimit float64 `json:"speedLimit"`
	} `json:"speedLimits"`
}

func NewHTTPSpeedLimitSource(baseURL, apiKey string, httpClient *http.Client, logger Logger) (*HTTPSpeedLimitSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("speed limit base URL is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &HTTPSpeedLimitSource{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (s *HTTPSpeedLimitSource) Limit(ctx context.Context, latitude, longitude float64) (float64, bool) {
	query := url.Values{}
	query.Set("points", fmt.Sprintf("%f,%f", latitude, longitude))
	if s.apiKey != "" {
		query.Set("api_key", s.apiKey)
	}
	requestURL := s.baseURL + "?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, false
	}
	response, err := s.httpClient.Do(request)
	if err != nil {
		s.logger.Printf("sensors: speed limit request failed: %v", err)
		return 0, false
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		s.logger.Printf("sensors: speed limit request returned %d", response.StatusCode)
		return 0, false
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return 0, false
	}
	var parsed speedLimitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		s.logger.Printf("sensors: speed limit response malformed: %v", err)
		return 0, false
	}
	if len(parsed.SpeedLimits) == 0 {
		return 0, false
	}
	return parsed.SpeedLimits[0].SpeedLimit, true
}
