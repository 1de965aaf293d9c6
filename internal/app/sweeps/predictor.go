package sweeps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charlesng35/carecoord/internal/notifications"
)

const (
	defaultPredictorTimeout = 15 * time.Second
	maxPredictorBody        = 1 << 20
)

// Prediction is the next-day adverse event estimate for one patient.
type Prediction struct {
	AdverseProbability float64                    `json:"adverseProbability"`
	Drivers            []notifications.RiskDriver `json:"drivers"`
}

// RiskPredictor fetches predictions from the AI service.
type RiskPredictor interface {
	Predict(ctx context.Context, patientID string, targetDate time.Time) (Prediction, error)
}

// HTTPPredictor calls the prediction service over JSON.
type HTTPPredictor struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewHTTPPredictor constructs a predictor posting to url. A nil client uses http.DefaultClient.
func NewHTTPPredictor(url string, timeout time.Duration, client *http.Client) (*HTTPPredictor, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("predictor: url is required")
	}
	if timeout <= 0 {
		timeout = defaultPredictorTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPredictor{client: client, url: url, timeout: timeout}, nil
}

type predictRequest struct {
	PatientID  string `json:"patientId"`
	TargetDate string `json:"targetDate"`
}

// Predict implements RiskPredictor.
func (p *HTTPPredictor) Predict(ctx context.Context, patientID string, targetDate time.Time) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(predictRequest{PatientID: patientID, TargetDate: targetDate.UTC().Format("2006-01-02")})
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPredictorBody))
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Prediction{}, fmt.Errorf("predictor: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var prediction Prediction
	if err := json.Unmarshal(raw, &prediction); err != nil {
		return Prediction{}, fmt.Errorf("predictor: decode response: %w", err)
	}
	if prediction.AdverseProbability < 0 || prediction.AdverseProbability > 1 {
		return Prediction{}, fmt.Errorf("predictor: probability %v out of range", prediction.AdverseProbability)
	}
	return prediction, nil
}
