package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsender/campaign-engine/internal/channel"
	"github.com/zapsender/campaign-engine/internal/core"
	"github.com/zapsender/campaign-engine/internal/events"
	"github.com/zapsender/campaign-engine/internal/metrics"
	"github.com/zapsender/campaign-engine/internal/store"
)

// Engine dispatches campaign message batches: one background run per
// campaign, sends strictly in input order and paced, counters serialized
// per run, progress fanned out through the hub.
type Engine struct {
	store        store.Store
	channel      channel.Channel
	hub          *events.Hub
	confirmation ConfirmationSource
	sendInterval time.Duration
	log          zerolog.Logger

	mu   sync.Mutex
	runs map[int64]*Run
}

// Run is the handle of one in-flight campaign dispatch.
type Run struct {
	campaignID int64
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// Done closes when the run reaches a terminal campaign status. Pending
// confirmations may still fire afterwards.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel aborts the run before its next send and drops pending
// confirmations.
func (r *Run) Cancel() { r.cancel() }

func New(st store.Store, ch channel.Channel, hub *events.Hub, conf ConfirmationSource, sendInterval time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		store:        st,
		channel:      ch,
		hub:          hub,
		confirmation: conf,
		sendInterval: sendInterval,
		log:          log,
		runs:         make(map[int64]*Run),
	}
}

// Reserve claims the run slot for a campaign before its batch exists, so
// callers can create message records without racing a concurrent send. A
// busy slot fails with ErrConcurrentRun and nothing is mutated. The slot
// must be handed to exactly one of Launch or Release.
func (e *Engine) Reserve(campaignID int64) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.runs[campaignID]; busy {
		return nil, fmt.Errorf("campaign %d: %w", campaignID, ErrConcurrentRun)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{campaignID: campaignID, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	e.runs[campaignID] = r
	return r, nil
}

// Launch starts the background run for a reserved slot and returns
// immediately.
func (e *Engine) Launch(r *Run, campaign core.Campaign, msgs []core.Message) {
	metrics.RunsActive.Inc()
	go e.run(r.ctx, r, campaign, msgs)
}

// Release frees a reserved slot whose run never launched.
func (e *Engine) Release(r *Run) {
	r.cancel()
	e.mu.Lock()
	delete(e.runs, r.campaignID)
	e.mu.Unlock()
	close(r.done)
}

// Start begins a background run for the campaign and returns immediately.
// At most one run per campaign id may be active; a second Start fails with
// ErrConcurrentRun and performs no side effects.
func (e *Engine) Start(campaign core.Campaign, msgs []core.Message) (*Run, error) {
	r, err := e.Reserve(campaign.ID)
	if err != nil {
		return nil, err
	}
	e.Launch(r, campaign, msgs)
	return r, nil
}

// Cancel aborts the active run for a campaign, if any.
func (e *Engine) Cancel(campaignID int64) error {
	e.mu.Lock()
	r, ok := e.runs[campaignID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("campaign %d: %w", campaignID, ErrNoActiveRun)
	}
	r.Cancel()
	return nil
}

// Active reports whether a run is in flight for the campaign.
func (e *Engine) Active(campaignID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[campaignID]
	return ok
}

// Shutdown cancels every active run.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()
	for _, r := range runs {
		r.Cancel()
	}
}

func (e *Engine) run(ctx context.Context, r *Run, campaign core.Campaign, msgs []core.Message) {
	log := e.log.With().Int64("campaign_id", campaign.ID).Str("campaign", campaign.Name).Logger()
	prog := newProgress(len(msgs))

	defer func() {
		e.mu.Lock()
		delete(e.runs, campaign.ID)
		e.mu.Unlock()
		metrics.RunsActive.Dec()
		close(r.done)
	}()

	log.Info().Int("messages", len(msgs)).Msg("campaign run started")

	pacer := NewPacer(e.sendInterval)
	for _, m := range msgs {
		if err := pacer.Wait(ctx); err != nil {
			e.abort(campaign, prog, log)
			return
		}
		e.processOne(ctx, prog, campaign.ID, m, log)
	}

	e.finish(campaign, prog, log)
}

// processOne sends a single message and records either outcome. Repository
// failures are logged and skipped: partial progress must stay visible, so
// one bad write never aborts the run.
func (e *Engine) processOne(ctx context.Context, prog *progress, campaignID int64, m core.Message, log zerolog.Logger) {
	started := time.Now()
	sendErr := e.channel.Send(ctx, m.Phone, m.Text)
	metrics.SendDuration.Observe(time.Since(started).Seconds())

	var stats core.Stats
	var frac float64
	if sendErr != nil {
		metrics.SendTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(sendErr).Int64("message_id", m.ID).Msg("channel send failed")

		failed := core.MessageFailed
		errText := sendErr.Error()
		if _, err := e.store.UpdateMessage(ctx, m.ID, store.MessageUpdate{Status: &failed, Error: &errText}); err != nil {
			log.Error().Err(err).Int64("message_id", m.ID).Msg("persist failed message")
		}
		stats, frac = prog.recordFailed()
	} else {
		metrics.SendTotal.WithLabelValues("sent").Inc()

		sent := core.MessageSent
		now := time.Now()
		if _, err := e.store.UpdateMessage(ctx, m.ID, store.MessageUpdate{Status: &sent, SentAt: &now}); err != nil {
			log.Error().Err(err).Int64("message_id", m.ID).Msg("persist sent message")
		}
		stats, frac = prog.recordSent()

		msgID := m.ID
		e.confirmation.Schedule(ctx, campaignID, msgID, func() {
			e.deliver(campaignID, msgID, prog, log)
		})
	}

	e.persistCounters(campaignID, stats, log)
	e.hub.Publish(events.Event{
		Type:       events.TypeCampaignProgress,
		CampaignID: campaignID,
		Progress:   frac,
		Stats:      stats,
	})
}

// deliver promotes a sent message to delivered. It may fire after the
// campaign completed; counters are still updated but campaign status is
// never touched. Panics are contained here so a confirmation can never
// take the process down.
func (e *Engine) deliver(campaignID, messageID int64, prog *progress, log zerolog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Any("panic", rec).Int64("message_id", messageID).Msg("confirmation panicked")
		}
	}()

	ctx := context.Background()
	now := time.Now()
	delivered := core.MessageDelivered
	if _, err := e.store.UpdateMessage(ctx, messageID, store.MessageUpdate{Status: &delivered, DeliveredAt: &now}); err != nil {
		log.Error().Err(err).Int64("message_id", messageID).Msg("persist delivered message")
	}

	// persist inside the counter lock so writes land in increment order
	stats := prog.recordDelivered(func(s core.Stats) {
		count := s.DeliveredCount
		if _, err := e.store.UpdateCampaign(ctx, campaignID, store.CampaignUpdate{DeliveredCount: &count}); err != nil {
			log.Error().Err(err).Msg("persist delivered count")
		}
	})
	metrics.DeliveredTotal.Inc()

	e.hub.Publish(events.Event{
		Type:       events.TypeMessageDelivered,
		CampaignID: campaignID,
		MessageID:  messageID,
		Stats:      stats,
	})
}

func (e *Engine) persistCounters(campaignID int64, stats core.Stats, log zerolog.Logger) {
	sent, failed := stats.SentCount, stats.FailedCount
	upd := store.CampaignUpdate{SentCount: &sent, FailedCount: &failed}
	if _, err := e.store.UpdateCampaign(context.Background(), campaignID, upd); err != nil {
		log.Error().Err(err).Msg("persist campaign counters")
	}
}

// finish marks the campaign completed. Partial failures still complete;
// only total inability to run marks a campaign failed, and that happens
// before a run starts.
func (e *Engine) finish(campaign core.Campaign, prog *progress, log zerolog.Logger) {
	ctx := context.Background()
	stats, frac := prog.snapshot()

	if prog.total == 0 {
		// Nothing to send: an empty batch is fully progressed.
		e.hub.Publish(events.Event{
			Type:       events.TypeCampaignProgress,
			CampaignID: campaign.ID,
			Progress:   frac,
			Stats:      stats,
		})
	}

	now := time.Now()
	completed := core.CampaignCompleted
	sent, failed := stats.SentCount, stats.FailedCount
	upd := store.CampaignUpdate{Status: &completed, CompletedAt: &now, SentCount: &sent, FailedCount: &failed}
	if _, err := e.store.UpdateCampaign(ctx, campaign.ID, upd); err != nil {
		log.Error().Err(err).Msg("persist campaign completion")
	}

	activity := &core.Activity{
		Type:  "campaign_completed",
		Title: "Campaign completed",
		Description: fmt.Sprintf("Campaign %q completed. %d sent, %d delivered, %d failed",
			campaign.Name, stats.SentCount, stats.DeliveredCount, stats.FailedCount),
		Metadata: map[string]any{
			"campaignId":     campaign.ID,
			"sentCount":      stats.SentCount,
			"deliveredCount": stats.DeliveredCount,
			"failedCount":    stats.FailedCount,
		},
	}
	if err := e.store.CreateActivity(ctx, activity); err != nil {
		log.Error().Err(err).Msg("record completion activity")
	}

	e.hub.Publish(events.Event{
		Type:       events.TypeCampaignCompleted,
		CampaignID: campaign.ID,
		Progress:   1.0,
		Stats:      stats,
	})
	metrics.RunsTotal.WithLabelValues("completed").Inc()

	log.Info().
		Int("sent", stats.SentCount).
		Int("failed", stats.FailedCount).
		Msg("campaign run completed")
}

// abort handles a canceled run: remaining messages stay pending, the
// campaign is marked failed since it can no longer complete.
func (e *Engine) abort(campaign core.Campaign, prog *progress, log zerolog.Logger) {
	ctx := context.Background()
	stats, _ := prog.snapshot()

	failed := core.CampaignFailed
	sent, failedCount := stats.SentCount, stats.FailedCount
	upd := store.CampaignUpdate{Status: &failed, SentCount: &sent, FailedCount: &failedCount}
	if _, err := e.store.UpdateCampaign(ctx, campaign.ID, upd); err != nil {
		log.Error().Err(err).Msg("persist campaign abort")
	}

	activity := &core.Activity{
		Type:        "campaign_canceled",
		Title:       "Campaign canceled",
		Description: fmt.Sprintf("Campaign %q canceled after %d of %d messages", campaign.Name, stats.SentCount+stats.FailedCount, campaign.TotalRecipients),
		Metadata:    map[string]any{"campaignId": campaign.ID},
	}
	if err := e.store.CreateActivity(ctx, activity); err != nil {
		log.Error().Err(err).Msg("record cancel activity")
	}

	metrics.RunsTotal.WithLabelValues("canceled").Inc()
	log.Info().Int("sent", stats.SentCount).Msg("campaign run canceled")
}
