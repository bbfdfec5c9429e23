package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zapsender/campaign-engine/internal/core"
)

// Memory is an in-process Store used by tests and local development. All
// methods take the single lock, which makes every call atomic per record.
type Memory struct {
	mu sync.Mutex

	contacts   map[int64]core.Contact
	campaigns  map[int64]core.Campaign
	messages   map[int64]core.Message
	activities map[int64]core.Activity

	nextContact  int64
	nextCampaign int64
	nextMessage  int64
	nextActivity int64
}

func NewMemory() *Memory {
	return &Memory{
		contacts:     make(map[int64]core.Contact),
		campaigns:    make(map[int64]core.Campaign),
		messages:     make(map[int64]core.Message),
		activities:   make(map[int64]core.Activity),
		nextContact:  1,
		nextCampaign: 1,
		nextMessage:  1,
		nextActivity: 1,
	}
}

func (s *Memory) Ping(ctx context.Context) error { return nil }

func (s *Memory) CreateContact(ctx context.Context, c *core.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextContact
	s.nextContact++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.contacts[c.ID] = *c
	return nil
}

func (s *Memory) GetContact(ctx context.Context, id int64) (core.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return core.Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *Memory) ListContacts(ctx context.Context) ([]core.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) DeleteContact(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(s.contacts, id)
	return nil
}

func (s *Memory) CreateCampaign(ctx context.Context, c *core.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextCampaign
	s.nextCampaign++
	if c.Status == "" {
		c.Status = core.CampaignDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.campaigns[c.ID] = *c
	return nil
}

func (s *Memory) GetCampaign(ctx context.Context, id int64) (core.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return core.Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *Memory) ListCampaigns(ctx context.Context) ([]core.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) UpdateCampaign(ctx context.Context, id int64, upd CampaignUpdate) (core.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return core.Campaign{}, ErrNotFound
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.TotalRecipients != nil {
		c.TotalRecipients = *upd.TotalRecipients
	}
	if upd.SentCount != nil {
		c.SentCount = *upd.SentCount
	}
	if upd.DeliveredCount != nil {
		c.DeliveredCount = *upd.DeliveredCount
	}
	if upd.FailedCount != nil {
		c.FailedCount = *upd.FailedCount
	}
	if upd.CompletedAt != nil {
		c.CompletedAt = upd.CompletedAt
	}
	s.campaigns[id] = c
	return c, nil
}

func (s *Memory) CreateMessage(ctx context.Context, m *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.nextMessage
	s.nextMessage++
	if m.Status == "" {
		m.Status = core.MessagePending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *Memory) UpdateMessage(ctx context.Context, id int64, upd MessageUpdate) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return core.Message{}, ErrNotFound
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	if upd.Error != nil {
		m.Error = *upd.Error
	}
	if upd.SentAt != nil {
		m.SentAt = upd.SentAt
	}
	if upd.DeliveredAt != nil {
		m.DeliveredAt = upd.DeliveredAt
	}
	s.messages[id] = m
	return m, nil
}

func (s *Memory) ListMessagesByCampaign(ctx context.Context, campaignID int64) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Message
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) CreateActivity(ctx context.Context, a *core.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextActivity
	s.nextActivity++
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.activities[a.ID] = *a
	return nil
}

func (s *Memory) ListActivities(ctx context.Context, limit int) ([]core.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		out = append(out, a)
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Stats(ctx context.Context) (DashboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st DashboardStats
	// UTC day boundary, matching the Postgres query
	today := time.Now().UTC().Truncate(24 * time.Hour)
	var sent, delivered int
	for _, m := range s.messages {
		if !m.CreatedAt.Before(today) {
			st.MessagesToday++
		}
		switch m.Status {
		case core.MessageSent:
			sent++
		case core.MessageDelivered, core.MessageRead:
			sent++
			delivered++
		}
	}
	if sent > 0 {
		st.DeliveryRate = float64(delivered) / float64(sent)
	}
	for _, c := range s.contacts {
		if c.Valid {
			st.ActiveContacts++
		}
	}
	for _, c := range s.campaigns {
		if c.Status == core.CampaignSending || c.Status == core.CampaignScheduled {
			st.ActiveCampaigns++
		}
	}
	return st, nil
}
