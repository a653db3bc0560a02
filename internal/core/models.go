package core

import (
	"time"
)

// Channel is the delivery medium for an outbound message.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// RuleType selects the threshold semantics of a retention rule.
type RuleType string

const (
	RuleTime    RuleType = "TIME"    // threshold = days since last service
	RuleMileage RuleType = "MILEAGE" // threshold = km since last service
)

// TriggerType is the business reason a message exists.
type TriggerType string

const (
	TriggerServiceDueTime    TriggerType = "SERVICE_DUE_TIME"
	TriggerServiceDueMileage TriggerType = "SERVICE_DUE_MILEAGE"
	TriggerInactivity        TriggerType = "INACTIVITY"
	TriggerBirthday          TriggerType = "BIRTHDAY"
	TriggerFollowUp          TriggerType = "FOLLOW_UP"
	TriggerApptReminder      TriggerType = "APPT_REMINDER"
	TriggerReady             TriggerType = "READY"
)

type Garage struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Timezone   string     `json:"timezone"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type User struct {
	ID           string    `json:"id"`
	GarageID     string    `json:"garage_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         *string   `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Client struct {
	ID        string     `json:"id"`
	GarageID  string     `json:"garage_id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Birthday  *time.Time `json:"birthday,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Car struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"client_id"`
	LicensePlate    string     `json:"license_plate"`
	VIN             *string    `json:"vin,omitempty"`
	Make            *string    `json:"make,omitempty"`
	Model           *string    `json:"model,omitempty"`
	CurrentMileage  int        `json:"current_mileage"`
	LastServiceDate *time.Time `json:"last_service_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ServiceVisit struct {
	ID             string    `json:"id"`
	CarID          string    `json:"car_id"`
	ClientID       string    `json:"client_id"`
	ServiceDate    time.Time `json:"service_date"`
	MileageAtVisit int       `json:"mileage_at_visit"`
	Notes          *string   `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type RetentionRule struct {
	ID              string    `json:"id"`
	GarageID        string    `json:"garage_id"`
	Type            RuleType  `json:"type"`
	Threshold       int       `json:"threshold"`
	MessageTemplate string    `json:"message_template"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

type MessageTemplate struct {
	ID          string      `json:"id"`
	GarageID    string      `json:"garage_id"`
	TemplateKey string      `json:"template_key"`
	TriggerType TriggerType `json:"trigger_type"`
	Channel     Channel     `json:"channel"`
	Name        string      `json:"name"`
	Body        string      `json:"body"`
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// QueueItem is one scheduled, stateful outreach message. Rows are never
// deleted; history lives in message_logs.
type QueueItem struct {
	ID              string      `json:"id"`
	GarageID        string      `json:"garage_id"`
	ClientID        string      `json:"client_id"`
	CarID           *string     `json:"car_id,omitempty"`
	TriggerType     TriggerType `json:"trigger_type"`
	Channel         Channel     `json:"channel"`
	TemplateKey     *string     `json:"template_key,omitempty"`
	Variables       Vars        `json:"variables"`
	RenderedPreview *string     `json:"rendered_preview,omitempty"`
	ScheduledFor    time.Time   `json:"scheduled_for"`
	Status          QueueStatus `json:"status"`
	BlockedReason   *string     `json:"blocked_reason,omitempty"`
	RetryCount      int         `json:"retry_count"`
	MaxRetries      int         `json:"max_retries"`
	LastError       *string     `json:"last_error,omitempty"`
	SentAt          *time.Time  `json:"sent_at,omitempty"`
	CanceledAt      *time.Time  `json:"canceled_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// QueueItemView is the read shape exposed to the admin UI.
type QueueItemView struct {
	ID              string      `json:"id"`
	ClientName      string      `json:"client_name"`
	ClientPhone     string      `json:"client_phone"`
	CarLicensePlate *string     `json:"car_license_plate,omitempty"`
	TriggerType     TriggerType `json:"trigger_type"`
	Channel         Channel     `json:"channel"`
	ScheduledFor    time.Time   `json:"scheduled_for"`
	RenderedPreview *string     `json:"rendered_preview,omitempty"`
	Status          QueueStatus `json:"status"`
	BlockedReason   *string     `json:"blocked_reason,omitempty"`
}

// MessageLog is the append-only record of an attempted send.
type MessageLog struct {
	ID             string    `json:"id"`
	GarageID       string    `json:"garage_id"`
	ClientID       string    `json:"client_id"`
	MessageQueueID *string   `json:"message_queue_id,omitempty"`
	Channel        Channel   `json:"channel"`
	Content        string    `json:"content"`
	Status         string    `json:"status"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}
