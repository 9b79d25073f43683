package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/kafka"
	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (f *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeSource) Commit(_ context.Context, m kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, m.Offset)
	return nil
}

func (f *fakeSource) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type stubConvs struct {
	repository.ConversationsRepository
	byPhone map[string]*model.Conversation
	err     error
}

func (s *stubConvs) GetByPhone(_ context.Context, phone string) (*model.Conversation, error) {
	return s.byPhone[phone], s.err
}

type stubLedger struct {
	repository.LedgerRepository
	mu    sync.Mutex
	saved []model.LedgerEntry
}

func (s *stubLedger) SaveOutbound(_ context.Context, e model.LedgerEntry) (repository.SaveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, e)
	return repository.Saved, nil
}

type stubGateway struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (g *stubGateway) SendText(_ context.Context, to, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, to)
	return fmt.Sprintf("wamid.OUT%d", len(g.sent)), nil
}

func (g *stubGateway) MarkRead(context.Context, string) error { return nil }

func request(t *testing.T, id, phone, text string) []byte {
	t.Helper()
	raw, err := json.Marshal(model.OutboundRequest{ID: id, Phone: phone, Text: text, RequestedAt: time.Now().UTC()})
	require.NoError(t, err)
	return raw
}

func newSender(src Source, convs *stubConvs, ledger *stubLedger, gw *stubGateway) *OutboundSender {
	return NewOutboundSender(src, convs, ledger, gw, zap.NewNop())
}

func TestDecodeRequest(t *testing.T) {
	obj := request(t, "01J0000000000000000000000A", "237 670 000 000", " hi ")
	req, err := decodeRequest(obj)
	require.NoError(t, err)
	assert.Equal(t, "+237670000000", req.Phone)
	assert.Equal(t, "hi", req.Text)

	// Debezium string-encoded JSON column
	wrapped, err := json.Marshal(string(obj))
	require.NoError(t, err)
	req, err = decodeRequest(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "01J0000000000000000000000A", req.ID)

	for _, bad := range [][]byte{
		[]byte(`not json`),
		[]byte(`"not json either"`),
		request(t, "", "+237670000000", "hi"),
		request(t, "id", "", "hi"),
		request(t, "id", "+237670000000", "  "),
	} {
		_, err := decodeRequest(bad)
		assert.ErrorIs(t, err, errInvalidRequest, string(bad))
	}
}

func TestProcessOne_SendsAndRecords(t *testing.T) {
	src := &fakeSource{}
	ledger := &stubLedger{}
	gw := &stubGateway{}
	w := newSender(src, &stubConvs{}, ledger, gw)

	w.processOne(context.Background(), kafka.Message{Offset: 7, Value: request(t, "r1", "+237670000000", "hello")})

	assert.Equal(t, []string{"+237670000000"}, gw.sent)
	require.Len(t, ledger.saved, 1)
	assert.Equal(t, "wamid.OUT1", ledger.saved[0].ProviderMessageID)
	assert.Equal(t, "hello", ledger.saved[0].Body)
	assert.Equal(t, []int64{7}, src.committed)
}

func TestProcessOne_OptedOutRecipientIsSkipped(t *testing.T) {
	now := time.Now()
	src := &fakeSource{}
	ledger := &stubLedger{}
	gw := &stubGateway{}
	convs := &stubConvs{byPhone: map[string]*model.Conversation{
		"+237670000000": {Phone: "+237670000000", OptedOutAt: &now},
	}}
	w := newSender(src, convs, ledger, gw)

	w.processOne(context.Background(), kafka.Message{Offset: 1, Value: request(t, "r1", "+237670000000", "hello")})

	assert.Empty(t, gw.sent)
	assert.Empty(t, ledger.saved)
	assert.Equal(t, []int64{1}, src.committed)
}

func TestProcessOne_PoisonAndFailuresAreCommitted(t *testing.T) {
	src := &fakeSource{}
	ledger := &stubLedger{}
	gw := &stubGateway{err: errors.New("provider down")}
	w := newSender(src, &stubConvs{}, ledger, gw)

	w.processOne(context.Background(), kafka.Message{Offset: 1, Value: []byte(`{`)})
	w.processOne(context.Background(), kafka.Message{Offset: 2, Value: request(t, "r2", "+237670000000", "hello")})

	assert.Empty(t, ledger.saved)
	assert.Equal(t, []int64{1, 2}, src.committed)
}

func TestProcessOne_ShutdownLeavesMessageUncommitted(t *testing.T) {
	src := &fakeSource{}
	w := newSender(src, &stubConvs{err: context.Canceled}, &stubLedger{}, &stubGateway{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.processOne(ctx, kafka.Message{Offset: 3, Value: request(t, "r3", "+237670000000", "hello")})

	assert.Empty(t, src.committed)
}

func TestRun_DrainsAndStops(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 20; i++ {
		src.msgs = append(src.msgs, kafka.Message{
			Offset: int64(i),
			Value:  request(t, fmt.Sprintf("r%d", i), fmt.Sprintf("+23767000%04d", i), "hello"),
		})
	}
	ledger := &stubLedger{}
	gw := &stubGateway{}
	w := newSender(src, &stubConvs{}, ledger, gw)
	w.Workers = 4

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return src.commits() == 20 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, ledger.saved, 20)
}
