// Package ride implements the ride lifecycle: control polling, telemetry
// buffering, and the finalize/upload state machine that reconciles the
// local buffer with the remote store exactly once per ride.
package ride

import "strconv"

// Row is one telemetry sample. Pointer fields distinguish a reading that
// was absent (sensor failure, no position fix) from a reading of zero.
// Rows are immutable snapshots: the sampler builds one per tick and hands
// it over by value.
type Row struct {
	Timestamp      int64    `json:"timestamp"`
	AccX           *float64 `json:"acc_x,omitempty"`
	AccY           *float64 `json:"acc_y,omitempty"`
	AccZ           *float64 `json:"acc_z,omitempty"`
	GyroX          *float64 `json:"gyro_x,omitempty"`
	GyroY          *float64 `json:"gyro_y,omitempty"`
	GyroZ          *float64 `json:"gyro_z,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	SpeedLimit     *float64 `json:"speed_limit,omitempty"`
	HazardSeverity int      `json:"hazard_severity"`
	ImageKey       string   `json:"image_key,omitempty"`
	LocalImagePath string   `json:"local_image_path,omitempty"`
}

// TimestampKey is the row's image key in the remote store.
func (r Row) TimestampKey() string {
	return strconv.FormatInt(r.Timestamp, 10)
}

// forUpload returns a copy fit for the remote record. A row whose image
// made it to the store drops the local path; a row whose upload failed
// keeps it so the capture can still be traced back to the device.
func (r Row) forUpload() Row {
	if r.ImageKey != "" {
		r.LocalImagePath = ""
	}
	return r
}
