package store

import (
	"context"
	"errors"
	"time"

	"github.com/zapsender/campaign-engine/internal/core"
)

// ErrNotFound reports a record that does not exist.
var ErrNotFound = errors.New("not_found")

// CampaignUpdate carries partial campaign fields; nil fields are untouched.
type CampaignUpdate struct {
	Status          *core.CampaignStatus
	TotalRecipients *int
	SentCount       *int
	DeliveredCount  *int
	FailedCount     *int
	CompletedAt     *time.Time
}

// MessageUpdate carries partial message fields; nil fields are untouched.
type MessageUpdate struct {
	Status      *core.MessageStatus
	Error       *string
	SentAt      *time.Time
	DeliveredAt *time.Time
}

// DashboardStats backs the /stats endpoint.
type DashboardStats struct {
	MessagesToday   int     `json:"messagesCount"`
	DeliveryRate    float64 `json:"deliveryRate"`
	ActiveContacts  int     `json:"activeContacts"`
	ActiveCampaigns int     `json:"activeCampaigns"`
}

// Store is the persistence collaborator of the dispatch engine. Every call
// is atomic per record; the engine needs no multi-record transactions.
type Store interface {
	Ping(ctx context.Context) error

	CreateContact(ctx context.Context, c *core.Contact) error
	GetContact(ctx context.Context, id int64) (core.Contact, error)
	ListContacts(ctx context.Context) ([]core.Contact, error)
	DeleteContact(ctx context.Context, id int64) error

	CreateCampaign(ctx context.Context, c *core.Campaign) error
	GetCampaign(ctx context.Context, id int64) (core.Campaign, error)
	ListCampaigns(ctx context.Context) ([]core.Campaign, error)
	UpdateCampaign(ctx context.Context, id int64, upd CampaignUpdate) (core.Campaign, error)

	CreateMessage(ctx context.Context, m *core.Message) error
	UpdateMessage(ctx context.Context, id int64, upd MessageUpdate) (core.Message, error)
	ListMessagesByCampaign(ctx context.Context, campaignID int64) ([]core.Message, error)

	CreateActivity(ctx context.Context, a *core.Activity) error
	ListActivities(ctx context.Context, limit int) ([]core.Activity, error)

	Stats(ctx context.Context) (DashboardStats, error)
}
