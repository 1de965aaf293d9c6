// Package notifications resolves recipients for domain events and fans the
// resulting notifications out to the store, the realtime hub and push.
package notifications

import (
	"time"

	"github.com/charlesng35/carecoord/internal/models"
)

// Payload is the typed, per-type data carried by a notification.
// Render is called only at the persistence and transport boundary.
type Payload interface {
	Type() models.NotificationType
	Render() map[string]any
}

// Deduplicated is implemented by payloads that must be stored at most once per
// (recipient, tag, reference).
type Deduplicated interface {
	DedupKey() (tag string, reference time.Time)
}

// Event is a domain event ready to be turned into notifications.
type Event struct {
	Title     string
	Message   string
	Priority  models.NotificationPriority
	PatientID *string
	Payload   Payload
}

// Type reports the notification type implied by the payload.
func (e Event) Type() models.NotificationType {
	if e.Payload == nil {
		return models.NotificationSystem
	}
	return e.Payload.Type()
}

// Options selects which delivery channels a dispatch uses.
type Options struct {
	EmitEvent bool
	EmitCount bool
	SendPush  bool
}

// AllChannels emits the realtime event and unread count and sends push.
func AllChannels() Options {
	return Options{EmitEvent: true, EmitCount: true, SendPush: true}
}

// RiskDriver is one feature contributing to an AI risk prediction.
type RiskDriver struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// AIRiskPayload describes a next-day adverse event prediction.
type AIRiskPayload struct {
	PatientID    string
	AssessmentID string
	TargetDate   string
	Probability  float64
	Drivers      []RiskDriver
}

func (AIRiskPayload) Type() models.NotificationType { return models.NotificationAIRisk }

func (p AIRiskPayload) Render() map[string]any {
	drivers := make([]map[string]any, 0, len(p.Drivers))
	for _, d := range p.Drivers {
		drivers = append(drivers, map[string]any{"feature": d.Feature, "weight": d.Weight})
	}
	return map[string]any{
		"patientId":    p.PatientID,
		"assessmentId": p.AssessmentID,
		"targetDate":   p.TargetDate,
		"probability":  p.Probability,
		"drivers":      drivers,
	}
}

// MedicationPayload describes a due medication slot.
type MedicationPayload struct {
	ReminderID     string
	PatientID      string
	MedicationName string
	Dosage         string
	Slot           string
	DueAt          time.Time
}

func (MedicationPayload) Type() models.NotificationType { return models.NotificationMedication }

func (p MedicationPayload) Render() map[string]any {
	return map[string]any{
		"reminderId":     p.ReminderID,
		"patientId":      p.PatientID,
		"medicationName": p.MedicationName,
		"dosage":         p.Dosage,
		"slot":           p.Slot,
		"dueAt":          p.DueAt.UTC().Format(time.RFC3339),
	}
}

// ActivityPayload describes an activity that is starting.
type ActivityPayload struct {
	ActivityID  string
	PatientID   string
	Title       string
	ScheduledAt time.Time
}

func (ActivityPayload) Type() models.NotificationType { return models.NotificationActivity }

func (p ActivityPayload) Render() map[string]any {
	return map[string]any{
		"activityId":  p.ActivityID,
		"patientId":   p.PatientID,
		"title":       p.Title,
		"scheduledAt": p.ScheduledAt.UTC().Format(time.RFC3339),
	}
}

// MessagePayload deep-links a chat message.
type MessagePayload struct {
	ConversationID string
	MessageID      string
	SenderID       string
}

func (MessagePayload) Type() models.NotificationType { return models.NotificationMessage }

func (p MessagePayload) Render() map[string]any {
	return map[string]any{
		"conversationId": p.ConversationID,
		"messageId":      p.MessageID,
		"senderId":       p.SenderID,
	}
}

// SubscriptionPayload warns a subscription owner that the current period is ending.
type SubscriptionPayload struct {
	SubscriptionID string
	Plan           string
	PeriodEnd      time.Time
	DaysLeft       int
	Tag            string
}

func (SubscriptionPayload) Type() models.NotificationType { return models.NotificationSystem }

func (p SubscriptionPayload) Render() map[string]any {
	return map[string]any{
		"subscriptionId":     p.SubscriptionID,
		"plan":               p.Plan,
		"daysLeft":           p.DaysLeft,
		"tag":                p.Tag,
		"referenceTimestamp": p.PeriodEnd.UTC().Format(time.RFC3339Nano),
	}
}

// DedupKey implements Deduplicated.
func (p SubscriptionPayload) DedupKey() (string, time.Time) {
	return p.Tag, p.PeriodEnd
}

// IncidentPayload references a recorded incident.
type IncidentPayload struct {
	IncidentID string
	PatientID  string
	Severity   string
}

func (IncidentPayload) Type() models.NotificationType { return models.NotificationIncident }

func (p IncidentPayload) Render() map[string]any {
	return map[string]any{
		"incidentId": p.IncidentID,
		"patientId":  p.PatientID,
		"severity":   p.Severity,
	}
}

// ReportPayload references a generated report.
type ReportPayload struct {
	ReportID  string
	PatientID string
	URL       string
}

func (ReportPayload) Type() models.NotificationType { return models.NotificationReport }

func (p ReportPayload) Render() map[string]any {
	return map[string]any{
		"reportId":  p.ReportID,
		"patientId": p.PatientID,
		"url":       p.URL,
	}
}

// BehaviorPayload records an observed behaviour.
type BehaviorPayload struct {
	PatientID string
	Behavior  string
	Score     float64
}

func (BehaviorPayload) Type() models.NotificationType { return models.NotificationBehavior }

func (p BehaviorPayload) Render() map[string]any {
	return map[string]any{
		"patientId": p.PatientID,
		"behavior":  p.Behavior,
		"score":     p.Score,
	}
}

// SystemPayload carries an optional deep link for administrative notices.
type SystemPayload struct {
	Action string
	Link   string
}

func (SystemPayload) Type() models.NotificationType { return models.NotificationSystem }

func (p SystemPayload) Render() map[string]any {
	out := map[string]any{}
	if p.Action != "" {
		out["action"] = p.Action
	}
	if p.Link != "" {
		out["link"] = p.Link
	}
	return out
}
