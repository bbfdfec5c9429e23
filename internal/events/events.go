package events

import (
	"github.com/zapsender/campaign-engine/internal/core"
)

type Type string

const (
	TypeCampaignProgress  Type = "campaign_progress"
	TypeMessageDelivered  Type = "message_delivered"
	TypeCampaignCompleted Type = "campaign_completed"
)

// Event is one state-change notification for a campaign run. Progress is
// only meaningful on campaign_progress events; MessageID only on
// message_delivered events.
type Event struct {
	Type       Type       `json:"type"`
	CampaignID int64      `json:"campaignId"`
	MessageID  int64      `json:"messageId,omitempty"`
	Progress   float64    `json:"progress,omitempty"`
	Stats      core.Stats `json:"stats"`
}
