package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// Bridge forwards hub events to a RabbitMQ topic exchange so consumers
// outside this process (CRMs, dashboards) can follow campaign runs.
// Routing key: campaign.<id>.<event type>.
type Bridge struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
}

func NewBridge(url, exchange string, log zerolog.Logger) (*Bridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Bridge{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

// Run drains sub until its channel is closed. Publish failures are logged
// and skipped; the bridge must never stall the hub.
func (b *Bridge) Run(sub *Subscriber) {
	for e := range sub.C {
		body, err := json.Marshal(e)
		if err != nil {
			b.log.Error().Err(err).Msg("marshal event")
			continue
		}
		key := fmt.Sprintf("campaign.%d.%s", e.CampaignID, e.Type)
		err = b.ch.Publish(b.exchange, key, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
		if err != nil {
			b.log.Warn().Err(err).Str("routing_key", key).Msg("amqp publish failed")
		}
	}
}

func (b *Bridge) Close() {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
