package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/identity"
	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc   *Service
	store *memStore
	tasks *inlineTasks
	gw    *fakeGateway
}

func newHarness(t *testing.T, mutate func(*Deps, *Config)) *harness {
	t.Helper()
	store := newMemStore()
	h := &harness{store: store, tasks: &inlineTasks{}, gw: &fakeGateway{}}

	deps := Deps{
		Conversations: store,
		Ledger:        store,
		StatusEvents:  store,
		Outbox:        outboxStore{store},
		Gateway:       h.gw,
		Tasks:         h.tasks,
	}
	cfg := Config{
		StorageTimeout: time.Second,
		MarkRead:       true,
		Keywords:       router.DefaultKeywords(),
		Replies:        Replies{OptIn: "subscribed", OptOut: "unsubscribed", Help: "menu"},
	}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	h.svc = New(deps, cfg)
	return h
}

var t0 = time.Unix(1700000000, 0).UTC()

func text(id, from, body string) model.InboundMessage {
	return model.InboundMessage{
		ID:        id,
		From:      from,
		Timestamp: t0,
		Kind:      model.KindText,
		Text:      &model.TextContent{Body: body},
		Raw:       []byte(`{"id":"` + id + `"}`),
	}
}

func messageChange(msgs ...model.InboundMessage) []model.Change {
	return []model.Change{{Field: "messages", Contacts: map[string]string{"+237670000000": "Ama"}, Messages: msgs}}
}

func statusChange(id string, st model.MessageStatus, at time.Time) []model.Change {
	return []model.Change{{Field: "messages", Statuses: []model.StatusUpdate{{
		ProviderMessageID: id,
		Status:            st,
		Timestamp:         at,
		RecipientID:       "237670000000",
	}}}}
}

func TestProcess_NewConversationThenDeliveredStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sum := h.svc.Process(ctx, messageChange(text("wamid.1", "237670000000", "Hello")))
	assert.Equal(t, Summary{Saved: 1}, sum)

	conv, err := h.store.GetByPhone(ctx, "+237670000000")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.False(t, conv.OptedIn)
	require.NotNil(t, conv.DisplayName)
	assert.Equal(t, "Ama", *conv.DisplayName)

	entry, err := h.store.GetByProviderID(ctx, "wamid.1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.DirectionInbound, entry.Direction)
	assert.Equal(t, "Hello", entry.Body)
	assert.Equal(t, conv.ID, entry.ConversationID)
	assert.Equal(t, t0, entry.CreatedAt)

	events, _ := h.store.ListByProviderID(ctx, "wamid.1")
	assert.Empty(t, events)
	assert.Equal(t, []string{"wamid.1"}, h.gw.reads)

	sum = h.svc.Process(ctx, statusChange("wamid.1", model.StatusDelivered, t0.Add(time.Minute)))
	assert.Equal(t, Summary{Statuses: 1}, sum)

	entry, _ = h.store.GetByProviderID(ctx, "wamid.1")
	assert.Equal(t, model.StatusDelivered, entry.Status)
	assert.Equal(t, 1, h.store.ledgerLen())

	events, _ = h.store.ListByProviderID(ctx, "wamid.1")
	require.Len(t, events, 1)
	assert.Equal(t, "+237670000000", events[0].RecipientPhone)
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	changes := messageChange(text("wamid.1", "237670000000", "STOP"))

	first := h.svc.Process(context.Background(), changes)
	second := h.svc.Process(context.Background(), changes)

	assert.Equal(t, Summary{Saved: 1}, first)
	assert.Equal(t, Summary{Duplicates: 1}, second)
	assert.Equal(t, 1, h.store.ledgerLen()-len(h.gw.sent), "one inbound row besides replies")
	assert.Equal(t, 1, h.tasks.count("mark_read"))
	assert.Equal(t, 1, h.tasks.count("reply"), "side effects run once per true delivery")
}

func TestHandleMessage_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t, func(_ *Deps, c *Config) { c.MarkRead = false })
	msg := text("wamid.RACE", "237670000000", "Hello")

	const n = 8
	outcomes := make([]repository.SaveOutcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.svc.HandleMessage(context.Background(), msg, "")
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	saved := 0
	for _, o := range outcomes {
		if o == repository.Saved {
			saved++
		} else {
			assert.Equal(t, repository.Duplicate, o)
		}
	}
	assert.Equal(t, 1, saved)
	assert.Equal(t, 1, h.store.ledgerLen())
	assert.Len(t, h.store.convs, 1)
}

func TestApplyStatus_OrphanIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	applied, err := h.svc.ApplyStatus(ctx, model.StatusUpdate{
		ProviderMessageID: "wamid.UNKNOWN",
		Status:            model.StatusSent,
		Timestamp:         t0,
		RecipientID:       "237670000000",
	})
	require.NoError(t, err)
	assert.False(t, applied)

	events, _ := h.store.ListByProviderID(ctx, "wamid.UNKNOWN")
	assert.Len(t, events, 1)
	assert.Zero(t, h.store.ledgerLen())
}

func TestApplyStatus_OrderingPolicy(t *testing.T) {
	for _, monotonic := range []bool{false, true} {
		h := newHarness(t, func(_ *Deps, c *Config) { c.MonotonicStatus = monotonic })
		ctx := context.Background()
		h.svc.Process(ctx, messageChange(text("wamid.1", "237670000000", "Hello")))

		h.svc.Process(ctx, statusChange("wamid.1", model.StatusRead, t0.Add(2*time.Second)))
		sum := h.svc.Process(ctx, statusChange("wamid.1", model.StatusDelivered, t0.Add(time.Second)))

		entry, _ := h.store.GetByProviderID(ctx, "wamid.1")
		events, _ := h.store.ListByProviderID(ctx, "wamid.1")
		assert.Len(t, events, 2, "history is append-only either way")

		if monotonic {
			assert.Equal(t, model.StatusRead, entry.Status)
			assert.Equal(t, 1, sum.Orphans)
		} else {
			assert.Equal(t, model.StatusDelivered, entry.Status, "last applied wins")
			assert.Zero(t, sum.Orphans)
		}
	}
}

func TestProcess_FaultIsolation(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failPhone = "+111"

	sum := h.svc.Process(context.Background(), messageChange(
		text("wamid.A", "111", "Hello"),
		text("wamid.B", "237670000000", "Hello"),
		text("wamid.C", "", "no sender"),
	))

	assert.Equal(t, 1, sum.Saved)
	assert.Equal(t, 2, sum.Failed)
	entry, _ := h.store.GetByProviderID(context.Background(), "wamid.B")
	assert.NotNil(t, entry)
}

func TestProcess_PanickingCollaboratorIsContained(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Config) { d.Identity = panicResolver{} })

	sum := h.svc.Process(context.Background(), append(
		messageChange(text("wamid.1", "237670000000", "Hello")),
		statusChange("wamid.X", model.StatusSent, t0)...,
	))
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Statuses)
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, string) (string, error) { panic("directory offline") }

func TestOptOutAndOptIn(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.svc.Process(ctx, messageChange(text("wamid.1", "237670000000", "OUI")))
	conv, _ := h.store.GetByPhone(ctx, "+237670000000")
	require.True(t, conv.OptedIn)
	require.NotNil(t, conv.OptedInAt)

	h.svc.Process(ctx, messageChange(text("wamid.2", "237670000000", "Non")))
	conv, _ = h.store.GetByPhone(ctx, "+237670000000")
	assert.False(t, conv.OptedIn)
	assert.NotNil(t, conv.OptedOutAt)
	assert.NotNil(t, conv.OptedInAt, "opt-in time kept for audit")
	require.NotNil(t, conv.LastOutboundAt)

	assert.Equal(t, []string{"+237670000000|subscribed", "+237670000000|unsubscribed"}, h.gw.sent)
	out, _ := h.store.GetByProviderID(ctx, "wamid.OUT2")
	require.NotNil(t, out)
	assert.Equal(t, model.DirectionOutbound, out.Direction)
	assert.Equal(t, conv.ID, out.ConversationID)
}

func TestHelpRepliesAndUnhandledPublishes(t *testing.T) {
	h := newHarness(t, func(_ *Deps, c *Config) { c.PublishUnhandled = true })
	ctx := context.Background()

	h.svc.Process(ctx, messageChange(
		text("wamid.1", "237670000000", "menu"),
		text("wamid.2", "237670000000", "where is my order?"),
	))

	assert.Equal(t, []string{"+237670000000|menu"}, h.gw.sent)
	require.Len(t, h.store.outbox, 1)
	row := h.store.outbox[0]
	assert.Equal(t, model.TopicInboundUnhandled, row.topic)
	assert.Equal(t, "wamid.2", row.aggregateID)
	assert.Equal(t, "where is my order?", row.payload.(model.InboundEvent).Body)
}

func TestIdentityLinkedOnFirstMessage(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Config) {
		d.Identity = identity.StaticResolver{"+237670000000": "user-7"}
	})
	ctx := context.Background()

	h.svc.Process(ctx, messageChange(text("wamid.1", "237670000000", "Hello")))

	entry, _ := h.store.GetByProviderID(ctx, "wamid.1")
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "user-7", *entry.UserID)
	conv, _ := h.store.GetByPhone(ctx, "+237670000000")
	assert.Equal(t, "user-7", *conv.UserID)
}

func TestStorageContextSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	err := h.svc.store(ctx, func(ctx context.Context) error {
		seen = ctx.Err()
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, seen)
}
