package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/packcam/internal/httputil"
)

// maxSnapshotBytes caps a single still image.
const maxSnapshotBytes = 32 << 20

// SnapshotDevice drives an IP camera that exposes a still-image endpoint.
// TriggerURL is optional; cameras without a software shutter are treated as
// always armed.
type SnapshotDevice struct {
	Client      httputil.HTTPClient
	SnapshotURL string
	TriggerURL  string
}

// NewSnapshotDevice returns a device using client, or http.DefaultClient
// when client is nil.
func NewSnapshotDevice(client httputil.HTTPClient, snapshotURL, triggerURL string) *SnapshotDevice {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &SnapshotDevice{Client: client, SnapshotURL: snapshotURL, TriggerURL: triggerURL}
}

func (d *SnapshotDevice) Trigger(ctx context.Context) error {
	if d.TriggerURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TriggerURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trigger %s: status %d", d.TriggerURL, resp.StatusCode)
	}
	return nil
}

func (d *SnapshotDevice) Capture(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.SnapshotURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("snapshot %s: status %d", d.SnapshotURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) > maxSnapshotBytes {
		return nil, fmt.Errorf("snapshot %s: exceeds %d bytes", d.SnapshotURL, maxSnapshotBytes)
	}
	return data, nil
}
