package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"
)

// ControlStatus mirrors the ride_status control document. is_active and
// calculate_model are the remote-supplied directives; start_timestamp is
// written back by the device at activation.
type ControlStatus struct {
	IsActive       bool  `json:"is_active"`
	CalculateModel bool  `json:"calculate_model"`
	StartTimestamp int64 `json:"start_timestamp,omitempty"`
}

// ImageBlob is the stored form of one captured still, keyed under the
// ride's image node by sanitized sample timestamp.
type ImageBlob struct {
	ContentType string `json:"content_type"`
	UploadedAt  int64  `json:"uploaded_at"`
	DataBase64  string `json:"data_base64"`
}

// ReadControl reads the control document at an already-resolved path.
func (c *Client) ReadControl(ctx context.Context, controlPath string) (ControlStatus, error) {
	var status ControlStatus
	if err := c.Get(ctx, controlPath, &status); err != nil {
		return ControlStatus{}, err
	}
	return status, nil
}

// SetControlFields merge-patches named boolean flags on the control
// document, leaving the rest of it untouched.
func (c *Client) SetControlFields(ctx context.Context, controlPath string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return c.Patch(ctx, controlPath, fields)
}

// InitRideStatus marks a ride active with its start timestamp and a
// cleared compute trigger.
func (c *Client) InitRideStatus(ctx context.Context, controlPath string, startMillis int64) error {
	return c.Patch(ctx, controlPath, map[string]any{
		"is_active":       true,
		"start_timestamp": startMillis,
		"calculate_model": false,
	})
}

// UploadImage stores one local image as a base64 blob at the given node
// and returns the remote reference path. Duplicate timestamp keys within
// a ride overwrite: last write wins at that key.
func (c *Client) UploadImage(ctx context.Context, imageNodePath, localPath, contentType string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", localPath, err)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	blob := ImageBlob{
		ContentType: contentType,
		UploadedAt:  time.Now().UnixMilli(),
		DataBase64:  base64.StdEncoding.EncodeToString(data),
	}
	if err := c.Put(ctx, imageNodePath, blob); err != nil {
		return "", err
	}
	return imageNodePath, nil
}
