package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zapsender/campaign-engine/internal/core"
	"github.com/zapsender/campaign-engine/internal/engine"
	"github.com/zapsender/campaign-engine/internal/events"
	"github.com/zapsender/campaign-engine/internal/store"
)

// recordingChannel captures send order and fails selected phones.
type recordingChannel struct {
	mu        sync.Mutex
	sent      []string
	failPhone string
	failErr   error
}

func (c *recordingChannel) Send(ctx context.Context, phone, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, phone)
	if c.failPhone != "" && phone == c.failPhone {
		return c.failErr
	}
	return nil
}

func (c *recordingChannel) order() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// gatedChannel blocks each send until allowed, or until the run context is
// canceled.
type gatedChannel struct {
	allow chan struct{}
	rec   recordingChannel
}

func newGatedChannel() *gatedChannel { return &gatedChannel{allow: make(chan struct{})} }

func (c *gatedChannel) Send(ctx context.Context, phone, text string) error {
	select {
	case <-c.allow:
		return c.rec.Send(ctx, phone, text)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// manualConfirmations collects confirmations and fires them on demand,
// giving tests a deterministic substitute for the timer source.
type manualConfirmations struct {
	mu      sync.Mutex
	pending []pendingConfirmation
}

type pendingConfirmation struct {
	ctx     context.Context
	deliver func()
}

func (m *manualConfirmations) Schedule(ctx context.Context, campaignID, messageID int64, deliver func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pendingConfirmation{ctx: ctx, deliver: deliver})
}

// take removes and returns all pending confirmations.
func (m *manualConfirmations) take() []pendingConfirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pending
	m.pending = nil
	return pending
}

// fire delivers every pending confirmation whose context is still alive.
func (m *manualConfirmations) fire() int {
	fired := 0
	for _, p := range m.take() {
		if p.ctx.Err() != nil {
			continue
		}
		p.deliver()
		fired++
	}
	return fired
}

type testEnv struct {
	store   *store.Memory
	hub     *events.Hub
	channel *recordingChannel
	confirm *manualConfirmations
	engine  *engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   store.NewMemory(),
		hub:     events.NewHub(),
		channel: &recordingChannel{},
		confirm: &manualConfirmations{},
	}
	env.engine = engine.New(env.store, env.channel, env.hub, env.confirm, 0, zerolog.Nop())
	return env
}

// seedCampaign creates a sending campaign with one pending message per phone.
func (env *testEnv) seedCampaign(t *testing.T, phones ...string) (core.Campaign, []core.Message) {
	t.Helper()
	ctx := context.Background()
	c := &core.Campaign{
		Name:            "launch",
		Template:        "hello",
		Status:          core.CampaignSending,
		TotalRecipients: len(phones),
	}
	require.NoError(t, env.store.CreateCampaign(ctx, c))

	var msgs []core.Message
	for _, phone := range phones {
		m := &core.Message{CampaignID: c.ID, Phone: phone, Text: "hello"}
		require.NoError(t, env.store.CreateMessage(ctx, m))
		msgs = append(msgs, *m)
	}
	return *c, msgs
}

func waitDone(t *testing.T, r *engine.Run) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func drainEvents(sub *events.Subscriber) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-sub.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestRunCompletesAndCountersAddUp(t *testing.T) {
	env := newTestEnv(t)
	campaign, msgs := env.seedCampaign(t, "111", "222", "333")
	sub := env.hub.Subscribe(campaign.ID)

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	got, err := env.store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, got.TotalRecipients, got.SentCount+got.FailedCount)
	require.Equal(t, 3, got.SentCount)
	require.Zero(t, got.FailedCount)

	// deliveries are still outstanding
	require.LessOrEqual(t, got.DeliveredCount, got.SentCount)

	require.Equal(t, 3, env.confirm.fire())
	got, err = env.store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.DeliveredCount)

	evs := drainEvents(sub)
	var progress, delivered, completed int
	for _, e := range evs {
		switch e.Type {
		case events.TypeCampaignProgress:
			progress++
		case events.TypeMessageDelivered:
			delivered++
		case events.TypeCampaignCompleted:
			completed++
		}
	}
	require.Equal(t, 3, progress)
	require.Equal(t, 3, delivered)
	require.Equal(t, 1, completed)

	// completion summary activity
	acts, err := env.store.ListActivities(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, "campaign_completed", acts[0].Type)
}

func TestSecondStartRejected(t *testing.T) {
	env := newTestEnv(t)
	gate := newGatedChannel()
	env.engine = engine.New(env.store, gate, env.hub, env.confirm, 0, zerolog.Nop())

	campaign, msgs := env.seedCampaign(t, "111", "222")

	r1, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	require.True(t, env.engine.Active(campaign.ID))

	_, err = env.engine.Start(campaign, msgs)
	require.ErrorIs(t, err, engine.ErrConcurrentRun)

	// first run proceeds normally
	gate.allow <- struct{}{}
	gate.allow <- struct{}{}
	waitDone(t, r1)
	require.False(t, env.engine.Active(campaign.ID))

	got, err := env.store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)

	// a fresh run may start once the first is done
	_, err = env.engine.Start(campaign, nil)
	require.NoError(t, err)
}

func TestMessagesSentInInputOrder(t *testing.T) {
	env := newTestEnv(t)
	phones := []string{"901", "902", "903", "904", "905"}
	campaign, msgs := env.seedCampaign(t, phones...)

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	require.Equal(t, phones, env.channel.order())
}

func TestFailedSendRecordedAndRunContinues(t *testing.T) {
	env := newTestEnv(t)
	env.channel.failPhone = "000"
	env.channel.failErr = errors.New("number blocked")

	campaign, msgs := env.seedCampaign(t, "111", "000", "222")

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)
	env.confirm.fire()

	ctx := context.Background()
	stored, err := env.store.ListMessagesByCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	byPhone := map[string]core.Message{}
	for _, m := range stored {
		byPhone[m.Phone] = m
	}
	require.Equal(t, core.MessageFailed, byPhone["000"].Status)
	require.Equal(t, "number blocked", byPhone["000"].Error)
	require.Nil(t, byPhone["000"].SentAt)
	require.Equal(t, core.MessageDelivered, byPhone["111"].Status)
	require.Equal(t, core.MessageDelivered, byPhone["222"].Status)

	// partial failure still completes the campaign
	got, err := env.store.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)
	require.Equal(t, 2, got.SentCount)
	require.Equal(t, 1, got.FailedCount)
	require.Equal(t, 2, got.DeliveredCount)
}

func TestProgressEventsMonotonicAndFinal(t *testing.T) {
	env := newTestEnv(t)
	campaign, msgs := env.seedCampaign(t, "1", "2", "3", "4")
	sub := env.hub.Subscribe(campaign.ID)

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	var fractions []float64
	var sawCompleted bool
	for _, e := range drainEvents(sub) {
		switch e.Type {
		case events.TypeCampaignProgress:
			require.False(t, sawCompleted, "progress after completion event")
			fractions = append(fractions, e.Progress)
		case events.TypeCampaignCompleted:
			sawCompleted = true
		}
	}
	require.True(t, sawCompleted)
	require.Len(t, fractions, 4)
	for i := 1; i < len(fractions); i++ {
		require.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	require.Equal(t, 1.0, fractions[len(fractions)-1])

	got, err := env.store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)
}

func TestConfirmationAfterCompletionOnlyUpdatesCounters(t *testing.T) {
	env := newTestEnv(t)
	campaign, msgs := env.seedCampaign(t, "111")
	sub := env.hub.Subscribe(campaign.ID)

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	ctx := context.Background()
	got, err := env.store.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)
	completedAt := got.CompletedAt
	require.Zero(t, got.DeliveredCount)

	// confirmation fires after the campaign is already terminal
	require.Equal(t, 1, env.confirm.fire())

	got, err = env.store.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.DeliveredCount)
	require.Equal(t, core.CampaignCompleted, got.Status)
	require.Equal(t, completedAt, got.CompletedAt)

	evs := drainEvents(sub)
	last := evs[len(evs)-1]
	require.Equal(t, events.TypeMessageDelivered, last.Type)
	require.Equal(t, 1, last.Stats.DeliveredCount)
}

func TestZeroRecipientsCompletesImmediately(t *testing.T) {
	env := newTestEnv(t)
	campaign, _ := env.seedCampaign(t)
	sub := env.hub.Subscribe(campaign.ID)

	r, err := env.engine.Start(campaign, nil)
	require.NoError(t, err)
	waitDone(t, r)

	require.Empty(t, env.channel.order())

	got, err := env.store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)

	evs := drainEvents(sub)
	require.Len(t, evs, 2)
	require.Equal(t, events.TypeCampaignProgress, evs[0].Type)
	require.Equal(t, 1.0, evs[0].Progress)
	require.Equal(t, events.TypeCampaignCompleted, evs[1].Type)
}

func TestCancelAbortsRunAndDropsConfirmations(t *testing.T) {
	env := newTestEnv(t)
	gate := newGatedChannel()
	env.engine = engine.New(env.store, gate, env.hub, env.confirm, 0, zerolog.Nop())

	campaign, msgs := env.seedCampaign(t, "111", "222", "333")

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)

	// let the first send through, then cancel while the second blocks
	gate.allow <- struct{}{}
	require.NoError(t, env.engine.Cancel(campaign.ID))
	waitDone(t, r)

	ctx := context.Background()
	got, err := env.store.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignFailed, got.Status)

	// the pending confirmation for the first send was dropped
	require.Zero(t, env.confirm.fire())

	stored, err := env.store.ListMessagesByCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.MessageSent, stored[0].Status)
	require.Equal(t, core.MessagePending, stored[2].Status)

	require.ErrorIs(t, env.engine.Cancel(campaign.ID), engine.ErrNoActiveRun)
}

// flakyStore fails message updates to prove one bad write never aborts a run.
type flakyStore struct {
	*store.Memory
}

func (s *flakyStore) UpdateMessage(ctx context.Context, id int64, upd store.MessageUpdate) (core.Message, error) {
	return core.Message{}, fmt.Errorf("write timeout")
}

func TestRepositoryErrorsDoNotAbortRun(t *testing.T) {
	env := newTestEnv(t)
	env.engine = engine.New(&flakyStore{env.store}, env.channel, env.hub, env.confirm, 0, zerolog.Nop())

	campaign, msgs := env.seedCampaign(t, "111", "222")
	sub := env.hub.Subscribe(campaign.ID)

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	require.Len(t, env.channel.order(), 2)

	got, err := env.store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)
	require.Equal(t, 2, got.SentCount)

	// progress stayed visible to observers throughout
	evs := drainEvents(sub)
	require.NotEmpty(t, evs)
	require.Equal(t, events.TypeCampaignCompleted, evs[len(evs)-1].Type)
}

// panicStore panics on delivery writes to exercise confirmation recovery.
type panicStore struct {
	*store.Memory
}

func (s *panicStore) UpdateMessage(ctx context.Context, id int64, upd store.MessageUpdate) (core.Message, error) {
	if upd.DeliveredAt != nil {
		panic("delivery write exploded")
	}
	return s.Memory.UpdateMessage(ctx, id, upd)
}

func TestConfirmationPanicIsContained(t *testing.T) {
	env := newTestEnv(t)
	env.engine = engine.New(&panicStore{env.store}, env.channel, env.hub, env.confirm, 0, zerolog.Nop())

	campaign, msgs := env.seedCampaign(t, "111")

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	require.NotPanics(t, func() { env.confirm.fire() })

	// the run and store remain usable afterwards
	got, err := env.store.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignCompleted, got.Status)
}

func TestReserveHoldsSlotUntilLaunchedOrReleased(t *testing.T) {
	env := newTestEnv(t)
	campaign, msgs := env.seedCampaign(t, "111")

	r, err := env.engine.Reserve(campaign.ID)
	require.NoError(t, err)
	require.True(t, env.engine.Active(campaign.ID))

	_, err = env.engine.Reserve(campaign.ID)
	require.ErrorIs(t, err, engine.ErrConcurrentRun)
	_, err = env.engine.Start(campaign, msgs)
	require.ErrorIs(t, err, engine.ErrConcurrentRun)

	// a released slot never ran and frees the campaign
	env.engine.Release(r)
	require.False(t, env.engine.Active(campaign.ID))
	require.Empty(t, env.channel.order())

	r2, err := env.engine.Reserve(campaign.ID)
	require.NoError(t, err)
	env.engine.Launch(r2, campaign, msgs)
	waitDone(t, r2)
	require.Equal(t, []string{"111"}, env.channel.order())
}

// laggyStore slows down smaller delivered-count writes, so an unserialized
// persist would land them after larger ones and clobber the newer value.
type laggyStore struct {
	*store.Memory

	mu     sync.Mutex
	writes []int
}

func (s *laggyStore) UpdateCampaign(ctx context.Context, id int64, upd store.CampaignUpdate) (core.Campaign, error) {
	if upd.DeliveredCount != nil {
		time.Sleep(time.Duration(3-*upd.DeliveredCount) * 20 * time.Millisecond)
		s.mu.Lock()
		s.writes = append(s.writes, *upd.DeliveredCount)
		s.mu.Unlock()
	}
	return s.Memory.UpdateCampaign(ctx, id, upd)
}

func TestConcurrentConfirmationsPersistInIncrementOrder(t *testing.T) {
	env := newTestEnv(t)
	st := &laggyStore{Memory: env.store}
	env.engine = engine.New(st, env.channel, env.hub, env.confirm, 0, zerolog.Nop())

	campaign, msgs := env.seedCampaign(t, "111", "222", "333")

	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	// fire all confirmations at once
	var wg sync.WaitGroup
	for _, p := range env.confirm.take() {
		wg.Add(1)
		go func(deliver func()) {
			defer wg.Done()
			deliver()
		}(p.deliver)
	}
	wg.Wait()

	got, err := st.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.DeliveredCount)
	require.Equal(t, []int{1, 2, 3}, st.writes)
}

func TestPacerSpacesSends(t *testing.T) {
	env := newTestEnv(t)
	interval := 30 * time.Millisecond
	env.engine = engine.New(env.store, env.channel, env.hub, env.confirm, interval, zerolog.Nop())

	campaign, msgs := env.seedCampaign(t, "1", "2", "3")

	started := time.Now()
	r, err := env.engine.Start(campaign, msgs)
	require.NoError(t, err)
	waitDone(t, r)

	// first send is immediate, the next two wait one interval each
	require.GreaterOrEqual(t, time.Since(started), 2*interval)
}
