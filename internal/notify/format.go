package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

const dataCredit = "Data from Kandilli Observatory and Earthquake Research Institute"

// formatMagnitude renders a possibly-absent magnitude for human-facing text.
func formatMagnitude(m *float64) string {
	if m == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*m, 'f', 1, 64)
}

// mapsURL builds a Google Maps pin for the epicenter.
func mapsURL(ev domain.Earthquake) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%g,%g", ev.Latitude, ev.Longitude)
}

// basicAuth encodes credentials for an Authorization header.
func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// postJSON sends one JSON request and returns status plus a bounded copy of
// the response body for error reporting.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
