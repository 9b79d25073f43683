package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/dispatcher"
	"github.com/jmehdipour/whatsapp-gateway/internal/kafka"
	"github.com/jmehdipour/whatsapp-gateway/internal/metrics"
	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	"go.uber.org/zap"
)

var errInvalidRequest = errors.New("sender: invalid outbound request")

// Source is the part of kafka.Consumer the sender needs.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// OutboundSender:
// - fetches OutboundRequest payloads published from the outbox,
// - skips recipients that opted out,
// - sends through the Cloud API gateway and records the message in the ledger.
//
// Delivery is at-least-once; a request is committed once it reaches a final
// result. Requests in flight at shutdown are redelivered.
type OutboundSender struct {
	Source        Source
	Conversations repository.ConversationsRepository
	Ledger        repository.LedgerRepository
	Gateway       dispatcher.Gateway
	Log           *zap.Logger

	Workers      int           // goroutines processing messages
	FetchBackoff time.Duration // pause after a fetch error

	now func() time.Time
}

func NewOutboundSender(
	src Source,
	convs repository.ConversationsRepository,
	ledger repository.LedgerRepository,
	gw dispatcher.Gateway,
	log *zap.Logger,
) *OutboundSender {
	return &OutboundSender{
		Source:        src,
		Conversations: convs,
		Ledger:        ledger,
		Gateway:       gw,
		Log:           log.Named("sender"),
		Workers:       8,
		FetchBackoff:  200 * time.Millisecond,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the worker and blocks until ctx is cancelled and in-flight
// messages are finished.
func (w *OutboundSender) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.FetchBackoff <= 0 {
		w.FetchBackoff = 200 * time.Millisecond
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				w.processOne(ctx, m)
			}
		}()
	}

	w.fetchLoop(ctx, msgCh)
	close(msgCh)
	wg.Wait()

	return nil
}

func (w *OutboundSender) fetchLoop(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.FetchBackoff):
			}
			continue
		}

		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (w *OutboundSender) processOne(ctx context.Context, m kafka.Message) {
	req, err := decodeRequest(m.Value)
	if err != nil {
		metrics.SenderMessagesTotal.WithLabelValues("poison").Inc()
		w.Log.Warn("outbound request skipped", zap.Int64("offset", m.Offset), zap.Error(err))
		w.commit(ctx, m)
		return
	}
	log := w.Log.With(zap.String("request_id", req.ID), zap.String("phone", req.Phone))

	result, err := w.send(ctx, req)
	if ctx.Err() != nil {
		log.Info("outbound request interrupted by shutdown")
		return
	}
	metrics.SenderMessagesTotal.WithLabelValues(result).Inc()
	if err != nil {
		log.Error("outbound request failed", zap.String("result", result), zap.Error(err))
	} else {
		log.Debug("outbound request done", zap.String("result", result))
	}

	w.commit(ctx, m)
}

func (w *OutboundSender) send(ctx context.Context, req model.OutboundRequest) (string, error) {
	conv, err := w.Conversations.GetByPhone(ctx, req.Phone)
	if err != nil {
		return "lookup_failed", err
	}
	if conv != nil && conv.OptedOut() {
		return "opted_out", nil
	}

	id, err := w.Gateway.SendText(ctx, req.Phone, req.Text)
	if err != nil {
		return "failed", err
	}

	outcome, err := w.Ledger.SaveOutbound(ctx, model.LedgerEntry{
		ProviderMessageID: id,
		Phone:             req.Phone,
		Body:              req.Text,
		MessageType:       string(model.KindText),
		CreatedAt:         w.now(),
	})
	if err != nil {
		// sent but not recorded; a resend would duplicate the message
		return "sent", err
	}
	if outcome == repository.Duplicate {
		w.Log.Warn("provider id already in ledger", zap.String("provider_message_id", id))
	}
	return "sent", nil
}

func (w *OutboundSender) commit(ctx context.Context, m kafka.Message) {
	if err := w.Source.Commit(ctx, m); err != nil && ctx.Err() == nil {
		w.Log.Error("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// decodeRequest accepts the payload either as a JSON object or, as Debezium
// emits JSON columns by default, as a JSON string holding that object.
func decodeRequest(value []byte) (model.OutboundRequest, error) {
	raw := bytes.TrimSpace(value)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.OutboundRequest{}, errors.Join(errInvalidRequest, err)
		}
		raw = []byte(s)
	}

	var req model.OutboundRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return model.OutboundRequest{}, errors.Join(errInvalidRequest, err)
	}

	req.Phone = util.NormalizePhone(req.Phone)
	req.Text = strings.TrimSpace(req.Text)
	if req.ID == "" || req.Phone == "" || req.Text == "" {
		return model.OutboundRequest{}, errInvalidRequest
	}
	return req, nil
}
