package sweeps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/notifications"
)

type fakePredictor struct {
	mu          sync.Mutex
	predictions map[string]Prediction
	failures    map[string]error
	calls       []string
	targets     []time.Time
}

func (f *fakePredictor) Predict(_ context.Context, patientID string, target time.Time) (Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, patientID)
	f.targets = append(f.targets, target)
	if err := f.failures[patientID]; err != nil {
		return Prediction{}, err
	}
	return f.predictions[patientID], nil
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		probability float64
		want        models.NotificationPriority
	}{
		{0.65, models.PriorityHigh},
		{0.6, models.PriorityHigh},
		{0.59, ""},
		{0.85, models.PriorityCritical},
		{0.8, models.PriorityCritical},
		{0, ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ClassifyRisk(tc.probability, 0.6, 0.8), "probability %v", tc.probability)
	}
}

func TestAIRiskSweepThresholds(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "high", "carer-high")
	seedCircle(t, f.db, "low", "carer-low")
	seedCircle(t, f.db, "critical", "carer-critical")

	predictor := &fakePredictor{predictions: map[string]Prediction{
		"high":     {AdverseProbability: 0.65, Drivers: []notifications.RiskDriver{{Feature: "sleep", Weight: 0.4}}},
		"low":      {AdverseProbability: 0.59},
		"critical": {AdverseProbability: 0.85},
	}}
	sweep, err := NewAIRiskSweep(f.db, f.dispatcher, predictor, AIRiskConfig{RiskThreshold: 0.6, CriticalThreshold: 0.8})
	require.NoError(t, err)

	now := at("2024-01-15T10:00:00Z")
	require.NoError(t, sweep.Run(context.Background(), now))

	high := f.notificationsFor(t, "carer-high")
	require.Len(t, high, 1)
	require.Equal(t, models.NotificationAIRisk, high[0].Type)
	require.Equal(t, models.PriorityHigh, high[0].Priority)

	require.Empty(t, f.notificationsFor(t, "carer-low"))

	critical := f.notificationsFor(t, "carer-critical")
	require.Len(t, critical, 1)
	require.Equal(t, models.PriorityCritical, critical[0].Priority)

	for _, target := range predictor.targets {
		require.True(t, target.Equal(at("2024-01-16T00:00:00Z")))
	}

	var assessments []models.RiskAssessment
	require.NoError(t, f.db.Order("patient_id").Find(&assessments).Error)
	require.Len(t, assessments, 3)
	require.Equal(t, "critical", assessments[0].PatientID)
	require.True(t, assessments[0].Notified)
	require.Equal(t, "low", assessments[2].PatientID)
	require.False(t, assessments[2].Notified)
	require.Equal(t, models.NotificationPriority(""), assessments[2].Priority)
}

func TestAIRiskSweepProcessesEachDayOnce(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")

	predictor := &fakePredictor{predictions: map[string]Prediction{"patient-1": {AdverseProbability: 0.7}}}
	sweep, err := NewAIRiskSweep(f.db, f.dispatcher, predictor, AIRiskConfig{RiskThreshold: 0.6, CriticalThreshold: 0.8})
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T10:00:00Z")))
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T11:00:00Z")))
	require.Len(t, predictor.calls, 1)
	require.Len(t, f.notificationsFor(t, "carer-1"), 1)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-16T10:00:00Z")))
	require.Len(t, predictor.calls, 2)
	require.Len(t, f.notificationsFor(t, "carer-1"), 2)
}

func TestAIRiskSweepRetriesAfterPredictorFailure(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")

	predictor := &fakePredictor{
		predictions: map[string]Prediction{"patient-1": {AdverseProbability: 0.9}},
		failures:    map[string]error{"patient-1": errors.New("timeout")},
	}
	sweep, err := NewAIRiskSweep(f.db, f.dispatcher, predictor, AIRiskConfig{RiskThreshold: 0.6, CriticalThreshold: 0.8})
	require.NoError(t, err)

	require.Error(t, sweep.Run(context.Background(), at("2024-01-15T10:00:00Z")))
	require.Empty(t, f.notificationsFor(t, "carer-1"))

	predictor.failures = nil
	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T11:00:00Z")))
	require.Len(t, f.notificationsFor(t, "carer-1"), 1)
}

func TestAIRiskSweepSkipsInactivePatients(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")
	require.NoError(t, f.db.Model(&models.Patient{}).Where("id = ?", "patient-1").Update("is_active", false).Error)

	predictor := &fakePredictor{}
	sweep, err := NewAIRiskSweep(f.db, f.dispatcher, predictor, AIRiskConfig{RiskThreshold: 0.6, CriticalThreshold: 0.8})
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background(), at("2024-01-15T10:00:00Z")))
	require.Empty(t, predictor.calls)
}

func TestAIRiskSweepHonoursCancelledTick(t *testing.T) {
	f := newSweepFixture(t)
	seedCircle(t, f.db, "patient-1", "carer-1")

	predictor := &fakePredictor{predictions: map[string]Prediction{"patient-1": {AdverseProbability: 0.9}}}
	sweep, err := NewAIRiskSweep(f.db, f.dispatcher, predictor, AIRiskConfig{RiskThreshold: 0.6, CriticalThreshold: 0.8})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sweep.Run(ctx, at("2024-01-15T10:00:00Z"))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, predictor.calls)
	require.Empty(t, f.notificationsFor(t, "carer-1"))
}

func TestNewAIRiskSweepValidatesThresholds(t *testing.T) {
	f := newSweepFixture(t)
	_, err := NewAIRiskSweep(f.db, f.dispatcher, &fakePredictor{}, AIRiskConfig{RiskThreshold: 0.9, CriticalThreshold: 0.8})
	require.Error(t, err)
}
