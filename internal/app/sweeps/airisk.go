package sweeps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/notifications"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
	"github.com/charlesng35/carecoord/pkg/logger"
)

// ClassifyRisk maps a probability to a notification priority. An empty priority means
// the prediction is below the risk threshold and nobody is notified.
func ClassifyRisk(probability, riskThreshold, criticalThreshold float64) models.NotificationPriority {
	switch {
	case probability >= criticalThreshold:
		return models.PriorityCritical
	case probability >= riskThreshold:
		return models.PriorityHigh
	default:
		return ""
	}
}

// AIRiskSweep fetches tomorrow's prediction for every active patient and alerts the
// care circle when it crosses a threshold. A RiskAssessment row per (patient, day)
// marks the day processed, so hourly ticks never repeat it.
type AIRiskSweep struct {
	db                *gorm.DB
	notifier          Notifier
	predictor         RiskPredictor
	riskThreshold     float64
	criticalThreshold float64
	log               *zap.Logger
}

// AIRiskConfig holds the sweep thresholds.
type AIRiskConfig struct {
	RiskThreshold     float64
	CriticalThreshold float64
}

// NewAIRiskSweep constructs the AI risk sweep.
func NewAIRiskSweep(db *gorm.DB, notifier Notifier, predictor RiskPredictor, cfg AIRiskConfig) (*AIRiskSweep, error) {
	if db == nil || notifier == nil || predictor == nil {
		return nil, errors.New("ai risk sweep: db, notifier and predictor are required")
	}
	if cfg.RiskThreshold <= 0 || cfg.CriticalThreshold < cfg.RiskThreshold {
		return nil, fmt.Errorf("ai risk sweep: invalid thresholds risk=%v critical=%v", cfg.RiskThreshold, cfg.CriticalThreshold)
	}
	return &AIRiskSweep{
		db:                db,
		notifier:          notifier,
		predictor:         predictor,
		riskThreshold:     cfg.RiskThreshold,
		criticalThreshold: cfg.CriticalThreshold,
		log:               logger.WithModule("sweeps"),
	}, nil
}

// Name implements Sweep.
func (s *AIRiskSweep) Name() string { return "ai_risk" }

// Run implements Sweep.
func (s *AIRiskSweep) Run(ctx context.Context, now time.Time) error {
	target := startOfUTCDay(now).AddDate(0, 0, 1)

	var patientIDs []string
	if err := s.db.WithContext(ctx).
		Model(&models.Patient{}).
		Where("is_active = ?", true).
		Where("id NOT IN (?)", s.db.WithContext(ctx).Model(&models.RiskAssessment{}).Select("patient_id").Where("target_date = ?", target)).
		Order("created_at ASC").
		Pluck("id", &patientIDs).Error; err != nil {
		return fmt.Errorf("ai risk sweep: load patients: %w", err)
	}

	var errs error
	alerts := 0
	for _, patientID := range patientIDs {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		alerted, err := s.assess(ctx, patientID, target)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if alerted {
			alerts++
		}
	}
	if len(patientIDs) > 0 {
		s.log.Info("ai risk predictions processed",
			zap.String("target_date", target.Format("2006-01-02")),
			zap.Int("patients", len(patientIDs)),
			zap.Int("alerts", alerts),
		)
	}
	return errs
}

func (s *AIRiskSweep) assess(ctx context.Context, patientID string, target time.Time) (bool, error) {
	prediction, err := s.predictor.Predict(ctx, patientID, target)
	if err != nil {
		return false, fmt.Errorf("ai risk sweep: predict %s: %w", patientID, err)
	}

	drivers, err := json.Marshal(prediction.Drivers)
	if err != nil {
		return false, fmt.Errorf("ai risk sweep: encode drivers: %w", err)
	}
	priority := ClassifyRisk(prediction.AdverseProbability, s.riskThreshold, s.criticalThreshold)
	assessment := models.RiskAssessment{
		PatientID:   patientID,
		TargetDate:  target,
		Probability: prediction.AdverseProbability,
		Priority:    priority,
		Drivers:     datatypes.JSON(drivers),
	}

	claim := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&assessment)
	if claim.Error != nil {
		return false, fmt.Errorf("ai risk sweep: record assessment %s: %w", patientID, claim.Error)
	}
	if claim.RowsAffected == 0 || priority == "" {
		return false, nil
	}

	created, err := s.notifier.NotifyPatientCircle(ctx, patientID, notifications.Event{
		Title:    riskTitle(priority),
		Message:  fmt.Sprintf("Predicted adverse event risk for %s is %.0f%%.", target.Format("2006-01-02"), prediction.AdverseProbability*100),
		Priority: priority,
		Payload: notifications.AIRiskPayload{
			PatientID:    patientID,
			AssessmentID: assessment.ID,
			TargetDate:   target.Format("2006-01-02"),
			Probability:  prediction.AdverseProbability,
			Drivers:      prediction.Drivers,
		},
	}, notifications.AllChannels())
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		// Release the claim so the next tick retries the day.
		if delErr := s.db.WithContext(ctx).Unscoped().Delete(&models.RiskAssessment{}, "id = ?", assessment.ID).Error; delErr != nil {
			err = multierr.Append(err, delErr)
		}
		return false, fmt.Errorf("ai risk sweep: notify %s: %w", patientID, err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.RiskAssessment{}).
		Where("id = ?", assessment.ID).
		Update("notified", len(created) > 0).Error; err != nil {
		return true, fmt.Errorf("ai risk sweep: mark assessment %s: %w", patientID, err)
	}
	return true, nil
}

func riskTitle(priority models.NotificationPriority) string {
	if priority == models.PriorityCritical {
		return "Critical risk alert"
	}
	return "High risk alert"
}
