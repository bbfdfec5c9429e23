package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zapsender/campaign-engine/internal/core"
)

// Postgres implements Store on top of a pgx pool. Single-record reads and
// writes only; counter writes are serialized by the engine, not by the DB.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{Pool: pool} }

func (s *Postgres) Ping(ctx context.Context) error { return s.Pool.Ping(ctx) }

func (s *Postgres) CreateContact(ctx context.Context, c *core.Contact) error {
	return s.Pool.QueryRow(ctx, `
		INSERT INTO contacts(name, phone, is_valid)
		VALUES($1,$2,$3)
		RETURNING id, created_at
	`, c.Name, c.Phone, c.Valid).Scan(&c.ID, &c.CreatedAt)
}

func (s *Postgres) GetContact(ctx context.Context, id int64) (core.Contact, error) {
	var c core.Contact
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, phone, is_valid, created_at FROM contacts WHERE id=$1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Valid, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Contact{}, ErrNotFound
	}
	return c, err
}

func (s *Postgres) ListContacts(ctx context.Context) ([]core.Contact, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, phone, is_valid, created_at FROM contacts ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Contact
	for rows.Next() {
		var c core.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Valid, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) DeleteContact(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM contacts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateCampaign(ctx context.Context, c *core.Campaign) error {
	if c.Status == "" {
		c.Status = core.CampaignDraft
	}
	return s.Pool.QueryRow(ctx, `
		INSERT INTO campaigns(name, message, personalization, status, total_recipients, scheduled_at)
		VALUES($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at
	`, c.Name, c.Template, c.Personalization, c.Status, c.TotalRecipients, c.ScheduledAt).
		Scan(&c.ID, &c.CreatedAt)
}

const campaignCols = `id, name, message, personalization, status, total_recipients,
	sent_count, delivered_count, failed_count, read_count, created_at, scheduled_at, completed_at`

func scanCampaign(row pgx.Row) (core.Campaign, error) {
	var c core.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.Template, &c.Personalization, &c.Status,
		&c.TotalRecipients, &c.SentCount, &c.DeliveredCount, &c.FailedCount, &c.ReadCount,
		&c.CreatedAt, &c.ScheduledAt, &c.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Campaign{}, ErrNotFound
	}
	return c, err
}

func (s *Postgres) GetCampaign(ctx context.Context, id int64) (core.Campaign, error) {
	return scanCampaign(s.Pool.QueryRow(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id=$1`, id))
}

func (s *Postgres) ListCampaigns(ctx context.Context) ([]core.Campaign, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+campaignCols+` FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateCampaign(ctx context.Context, id int64, upd CampaignUpdate) (core.Campaign, error) {
	q := `UPDATE campaigns SET id=id`
	args := []any{id}
	idx := 2
	add := func(col string, v any) {
		q += fmt.Sprintf(", %s=$%d", col, idx)
		args = append(args, v)
		idx++
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.TotalRecipients != nil {
		add("total_recipients", *upd.TotalRecipients)
	}
	if upd.SentCount != nil {
		add("sent_count", *upd.SentCount)
	}
	if upd.DeliveredCount != nil {
		add("delivered_count", *upd.DeliveredCount)
	}
	if upd.FailedCount != nil {
		add("failed_count", *upd.FailedCount)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	q += ` WHERE id=$1 RETURNING ` + campaignCols
	return scanCampaign(s.Pool.QueryRow(ctx, q, args...))
}

func (s *Postgres) CreateMessage(ctx context.Context, m *core.Message) error {
	if m.Status == "" {
		m.Status = core.MessagePending
	}
	return s.Pool.QueryRow(ctx, `
		INSERT INTO messages(campaign_id, contact_id, phone, message, status)
		VALUES($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`, m.CampaignID, m.ContactID, m.Phone, m.Text, m.Status).Scan(&m.ID, &m.CreatedAt)
}

const messageCols = `id, campaign_id, contact_id, phone, message, status, error,
	created_at, sent_at, delivered_at, read_at`

func scanMessage(row pgx.Row) (core.Message, error) {
	var m core.Message
	err := row.Scan(&m.ID, &m.CampaignID, &m.ContactID, &m.Phone, &m.Text, &m.Status,
		&m.Error, &m.CreatedAt, &m.SentAt, &m.DeliveredAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Message{}, ErrNotFound
	}
	return m, err
}

func (s *Postgres) UpdateMessage(ctx context.Context, id int64, upd MessageUpdate) (core.Message, error) {
	q := `UPDATE messages SET id=id`
	args := []any{id}
	idx := 2
	add := func(col string, v any) {
		q += fmt.Sprintf(", %s=$%d", col, idx)
		args = append(args, v)
		idx++
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.SentAt != nil {
		add("sent_at", *upd.SentAt)
	}
	if upd.DeliveredAt != nil {
		add("delivered_at", *upd.DeliveredAt)
	}
	q += ` WHERE id=$1 RETURNING ` + messageCols
	return scanMessage(s.Pool.QueryRow(ctx, q, args...))
}

func (s *Postgres) ListMessagesByCampaign(ctx context.Context, campaignID int64) ([]core.Message, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE campaign_id=$1 ORDER BY id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateActivity(ctx context.Context, a *core.Activity) error {
	var meta []byte
	if a.Metadata != nil {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	return s.Pool.QueryRow(ctx, `
		INSERT INTO activities(type, title, description, metadata)
		VALUES($1,$2,$3,$4)
		RETURNING id, created_at
	`, a.Type, a.Title, a.Description, meta).Scan(&a.ID, &a.CreatedAt)
}

func (s *Postgres) ListActivities(ctx context.Context, limit int) ([]core.Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, type, title, description, metadata, created_at
		FROM activities ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Activity
	for rows.Next() {
		var a core.Activity
		var meta []byte
		if err := rows.Scan(&a.ID, &a.Type, &a.Title, &a.Description, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) Stats(ctx context.Context) (DashboardStats, error) {
	var st DashboardStats
	err := s.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM messages WHERE created_at AT TIME ZONE 'utc' >= date_trunc('day', now() AT TIME ZONE 'utc')),
			(SELECT COUNT(*) FROM contacts WHERE is_valid),
			(SELECT COUNT(*) FROM campaigns WHERE status IN ('sending','scheduled'))
	`).Scan(&st.MessagesToday, &st.ActiveContacts, &st.ActiveCampaigns)
	if err != nil {
		return st, err
	}
	var sent, delivered int
	err = s.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('sent','delivered','read')),
			COUNT(*) FILTER (WHERE status IN ('delivered','read'))
		FROM messages
	`).Scan(&sent, &delivered)
	if err != nil {
		return st, err
	}
	if sent > 0 {
		st.DeliveryRate = float64(delivered) / float64(sent)
	}
	return st, nil
}
