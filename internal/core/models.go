package core

import (
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// Campaign is a named batch send targeting a list of recipients.
// Status only moves forward: draft/scheduled -> sending -> completed|failed.
type Campaign struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Template        string         `json:"message"`
	Personalization bool           `json:"personalization"`
	Status          CampaignStatus `json:"status"`
	TotalRecipients int            `json:"totalRecipients"`
	SentCount       int            `json:"sentCount"`
	DeliveredCount  int            `json:"deliveredCount"`
	FailedCount     int            `json:"failedCount"`
	ReadCount       int            `json:"readCount"`
	CreatedAt       time.Time      `json:"createdAt"`
	ScheduledAt     *time.Time     `json:"scheduledAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// Message is one per-recipient delivery unit. It belongs to exactly one
// campaign for its whole lifetime.
type Message struct {
	ID          int64         `json:"id"`
	CampaignID  int64         `json:"campaignId"`
	ContactID   int64         `json:"contactId"`
	Phone       string        `json:"phone"`
	Text        string        `json:"message"`
	Status      MessageStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	SentAt      *time.Time    `json:"sentAt,omitempty"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
}

type Contact struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Valid     bool      `json:"isValid"`
	CreatedAt time.Time `json:"createdAt"`
}

// Activity is an audit log entry surfaced on the dashboard.
type Activity struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Stats is the per-campaign counter snapshot carried on every event.
type Stats struct {
	SentCount      int `json:"sentCount"`
	DeliveredCount int `json:"deliveredCount"`
	FailedCount    int `json:"failedCount"`
}
