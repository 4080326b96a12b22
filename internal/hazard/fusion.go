// Package hazard fuses the two road-hazard detectors into a single
// severity code and derives speed-limit warnings from live telemetry.
package hazard

import "fmt"

// Severity encodes the two independent detectors as a 2-bit code with
// pothole as the high bit: 0 neither, 1 speed-bump only, 2 pothole only,
// 3 both.
func Severity(potholeDetected, speedbumpDetected bool) int {
	code := 0
	if speedbumpDetected {
		code |= 1
	}
	if potholeDetected {
		code |= 2
	}
	return code
}

// Warning is one entry in the live feed's active warnings map.
type Warning struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// WarningKey is the map key existing dashboards expect for a warning.
func WarningKey(timestampMillis int64) string {
	return fmt.Sprintf("warning_%d", timestampMillis)
}

// SpeedWarning produces a speed-limit violation record if and only if
// both speed and limit are known and speed exceeds the limit. A missing
// value means "cannot currently evaluate", never "violating".
func SpeedWarning(speed, speedLimit *float64, timestampMillis int64) *Warning {
	if speed == nil || speedLimit == nil {
		return nil
	}
	if *speed <= *speedLimit {
		return nil
	}
	return &Warning{
		Type:      "speed_limit",
		Message:   "Speed Limit Exceeded!",
		Timestamp: timestampMillis,
	}
}
