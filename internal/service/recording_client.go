package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RecordingClient implements call.Recorder against the external recording
// orchestrator's HTTP API. The coordinator treats every failure here as
// log-only, so this client just reports errors honestly.
type RecordingClient struct {
	baseURL string
	client  *http.Client
}

func NewRecordingClient(baseURL string, timeout time.Duration) *RecordingClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RecordingClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type recordingStartReq struct {
	AppointmentID uint   `json:"appointment_id"`
	CallID        string `json:"call_id"`
}

type recordingStopReq struct {
	AppointmentID uint `json:"appointment_id"`
}

func (r *RecordingClient) Start(ctx context.Context, appointmentID uint, callID string) error {
	return r.post(ctx, "/api/v1/recordings/start", recordingStartReq{
		AppointmentID: appointmentID,
		CallID:        callID,
	})
}

func (r *RecordingClient) Stop(ctx context.Context, appointmentID uint) error {
	return r.post(ctx, "/api/v1/recordings/stop", recordingStopReq{AppointmentID: appointmentID})
}

func (r *RecordingClient) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("recording service returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

// NopRecorder is used when no recording orchestrator is configured.
type NopRecorder struct{}

func (NopRecorder) Start(context.Context, uint, string) error { return nil }
func (NopRecorder) Stop(context.Context, uint) error          { return nil }
