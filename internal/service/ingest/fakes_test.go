package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/tasks"
	"github.com/jmoiron/sqlx"
)

// memStore is an in-memory stand-in for the MySQL repositories with the same
// uniqueness rules: one conversation per phone, one ledger row per provider id.
type memStore struct {
	mu     sync.Mutex
	convs  map[string]*model.Conversation
	ledger map[string]*model.LedgerEntry
	events []model.StatusEvent
	outbox []outboxRow
	nextID int

	failPhone string
}

type outboxRow struct {
	aggregate, aggregateID, topic string
	payload                       any
}

func newMemStore() *memStore {
	return &memStore{
		convs:  map[string]*model.Conversation{},
		ledger: map[string]*model.LedgerEntry{},
	}
}

var errStorage = errors.New("storage down")

func (m *memStore) Upsert(_ context.Context, phone, name string, seenAt time.Time) (model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if phone == m.failPhone {
		return model.Conversation{}, errors.Join(repository.ErrDirectoryWriteFailed, errStorage)
	}
	c, ok := m.convs[phone]
	if !ok {
		m.nextID++
		c = &model.Conversation{ID: "conv-" + phone, Phone: phone, CreatedAt: seenAt}
		m.convs[phone] = c
	}
	if name != "" {
		n := name
		c.DisplayName = &n
	}
	if c.LastInboundAt == nil || seenAt.After(*c.LastInboundAt) {
		t := seenAt
		c.LastInboundAt = &t
	}
	return *c, nil
}

func (m *memStore) LinkToUser(_ context.Context, phone, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[phone]
	if !ok {
		return repository.ErrConversationNotFound
	}
	c.UserID = &userID
	return nil
}

func (m *memStore) SetOptIn(_ context.Context, phone string, optedIn bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[phone]
	if !ok {
		return repository.ErrConversationNotFound
	}
	c.OptedIn = optedIn
	if optedIn {
		c.OptedInAt = &at
		c.OptedOutAt = nil
	} else {
		c.OptedOutAt = &at
	}
	return nil
}

func (m *memStore) TouchOutbound(_ context.Context, _ *sqlx.Tx, phone string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[phone]
	if !ok {
		c = &model.Conversation{ID: "conv-" + phone, Phone: phone}
		m.convs[phone] = c
	}
	c.LastOutboundAt = &at
	return c.ID, nil
}

func (m *memStore) GetByPhone(_ context.Context, phone string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[phone]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) insert(e model.LedgerEntry) repository.SaveOutcome {
	if _, ok := m.ledger[e.ProviderMessageID]; ok {
		return repository.Duplicate
	}
	e.StatusRank = e.Status.Rank()
	m.ledger[e.ProviderMessageID] = &e
	return repository.Saved
}

func (m *memStore) SaveInbound(_ context.Context, e model.LedgerEntry) (repository.SaveOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Direction = model.DirectionInbound
	return m.insert(e), nil
}

func (m *memStore) SaveOutbound(ctx context.Context, e model.LedgerEntry) (repository.SaveOutcome, error) {
	convID, _ := m.TouchOutbound(ctx, nil, e.Phone, e.CreatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	e.Direction = model.DirectionOutbound
	e.Status = model.StatusSent
	e.ConversationID = convID
	return m.insert(e), nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, st model.MessageStatus, monotonic bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[id]
	if !ok {
		return false, nil
	}
	if monotonic && e.StatusRank > st.Rank() {
		return false, nil
	}
	e.Status = st
	e.StatusRank = st.Rank()
	return true, nil
}

func (m *memStore) GetByProviderID(_ context.Context, id string) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListByConversation(_ context.Context, convID string, _ int) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range m.ledger {
		if e.ConversationID == convID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, ev model.StatusEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return ev.ID, nil
}

func (m *memStore) ListByProviderID(_ context.Context, id string) ([]model.StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StatusEvent
	for _, ev := range m.events {
		if ev.ProviderMessageID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) ledgerLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

// outboxStore adapts memStore to OutboxRepository; Insert is taken by status events.
type outboxStore struct{ m *memStore }

func (o outboxStore) Insert(_ context.Context, _ *sqlx.Tx, aggregate, aggregateID, topic string, payload any) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	o.m.outbox = append(o.m.outbox, outboxRow{aggregate, aggregateID, topic, payload})
	return nil
}

// inlineTasks runs submitted tasks synchronously and records their names and errors.
type inlineTasks struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (t *inlineTasks) Submit(name string, fn tasks.Func) bool {
	err := fn(context.Background())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names = append(t.names, name)
	if err != nil {
		t.errs = append(t.errs, err)
	}
	return true
}

func (t *inlineTasks) count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, got := range t.names {
		if got == name {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu     sync.Mutex
	reads  []string
	sent   []string // "to|body"
	sendID int
}

func (g *fakeGateway) SendText(_ context.Context, to, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendID++
	g.sent = append(g.sent, to+"|"+body)
	return fmt.Sprintf("wamid.OUT%d", g.sendID), nil
}

func (g *fakeGateway) MarkRead(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads = append(g.reads, id)
	return nil
}
