package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"fieldsync/internal/domain/survey"
	"fieldsync/internal/ports"
)

// HTTPUploader posts responses to the collection endpoint. It owns the
// transport deadline; the engine imposes none of its own.
type HTTPUploader struct {
	endpoint  string
	authToken string
	client    *http.Client
}

var _ ports.Uploader = (*HTTPUploader)(nil)

func NewHTTPUploader(endpoint, authToken string, timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		endpoint:  endpoint,
		authToken: authToken,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// uploadPayload is the wire envelope. Answers travel verbatim as the
// captured JSON document.
type uploadPayload struct {
	ID        string          `json:"id"`
	FarmerID  string          `json:"farmer_id"`
	CreatedAt int64           `json:"created_at"`
	Answers   json.RawMessage `json:"answers"`
}

func (u *HTTPUploader) Upload(ctx context.Context, resp survey.Response) error {
	body, err := json.Marshal(uploadPayload{
		ID:        resp.ID,
		FarmerID:  resp.FarmerID,
		CreatedAt: resp.CreatedAt,
		Answers:   json.RawMessage(resp.AnswersJSON),
	})
	if err != nil {
		return survey.NewSerializationError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return survey.NewUnknownError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if u.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+u.authToken)
	}

	httpResp, err := u.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
	return survey.NewServerError(httpResp.StatusCode, string(detail))
}

func classifyTransportError(ctx context.Context, err error) error {
	// A cancelled drain must surface as cancellation, not as a
	// classified upload failure.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return survey.ErrTimeout()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return survey.ErrTimeout()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return survey.ErrNoInternet()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return survey.ErrNoInternet()
	}

	return survey.NewUnknownError(err)
}
