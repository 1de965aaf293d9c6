package sweeps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPPredictorPredict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "patient-1", body["patientId"])
		require.Equal(t, "2024-01-16", body["targetDate"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"adverseProbability":0.72,"drivers":[{"feature":"missed_doses","weight":0.31}]}`))
	}))
	t.Cleanup(server.Close)

	predictor, err := NewHTTPPredictor(server.URL, time.Second, server.Client())
	require.NoError(t, err)

	prediction, err := predictor.Predict(context.Background(), "patient-1", at("2024-01-16T00:00:00Z"))
	require.NoError(t, err)
	require.InDelta(t, 0.72, prediction.AdverseProbability, 1e-9)
	require.Len(t, prediction.Drivers, 1)
	require.Equal(t, "missed_doses", prediction.Drivers[0].Feature)
}

func TestHTTPPredictorErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"adverseProbability":1.7}`))
		}
	}))
	t.Cleanup(server.Close)

	down, err := NewHTTPPredictor(server.URL+"/down", time.Second, server.Client())
	require.NoError(t, err)
	_, err = down.Predict(context.Background(), "patient-1", time.Now())
	require.ErrorContains(t, err, "status 503")

	bogus, err := NewHTTPPredictor(server.URL+"/bogus", time.Second, server.Client())
	require.NoError(t, err)
	_, err = bogus.Predict(context.Background(), "patient-1", time.Now())
	require.ErrorContains(t, err, "out of range")

	_, err = NewHTTPPredictor(" ", time.Second, nil)
	require.Error(t, err)
}
