// Package ingest turns parsed webhook changes into directory, ledger and
// status writes, and fans accepted messages out to the router.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/dispatcher"
	"github.com/jmehdipour/whatsapp-gateway/internal/identity"
	"github.com/jmehdipour/whatsapp-gateway/internal/metrics"
	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/router"
	"github.com/jmehdipour/whatsapp-gateway/internal/tasks"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	"go.uber.org/zap"
)

var ErrInvalidPhone = errors.New("ingest: sender phone is empty after normalization")

// TaskSubmitter queues best-effort side effects without blocking.
type TaskSubmitter interface {
	Submit(name string, fn tasks.Func) bool
}

type Deps struct {
	Conversations repository.ConversationsRepository
	Ledger        repository.LedgerRepository
	StatusEvents  repository.StatusEventsRepository
	Outbox        repository.OutboxRepository
	Gateway       dispatcher.Gateway
	Identity      identity.Resolver
	Tasks         TaskSubmitter
	Log           *zap.Logger
}

type Replies struct {
	OptIn  string
	OptOut string
	Help   string
}

type Config struct {
	StorageTimeout   time.Duration
	MonotonicStatus  bool
	MarkRead         bool
	PublishUnhandled bool
	Replies          Replies
	Keywords         router.Keywords
}

type Service struct {
	convs    repository.ConversationsRepository
	ledger   repository.LedgerRepository
	events   repository.StatusEventsRepository
	outbox   repository.OutboxRepository
	gateway  dispatcher.Gateway
	identity identity.Resolver
	tasks    TaskSubmitter
	log      *zap.Logger

	cfg    Config
	router *router.Router
	now    func() time.Time
}

func New(d Deps, cfg Config) *Service {
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 3 * time.Second
	}
	if d.Identity == nil {
		d.Identity = identity.NoopResolver{}
	}
	if d.Gateway == nil {
		d.Gateway = dispatcher.DisabledGateway{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	s := &Service{
		convs:    d.Conversations,
		ledger:   d.Ledger,
		events:   d.StatusEvents,
		outbox:   d.Outbox,
		gateway:  d.Gateway,
		identity: d.Identity,
		tasks:    d.Tasks,
		log:      d.Log.Named("ingest"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.router = router.New(cfg.Keywords, router.Handlers{
		OptIn:     router.HandlerFunc(s.handleOptIn),
		OptOut:    router.HandlerFunc(s.handleOptOut),
		Help:      router.HandlerFunc(s.handleHelp),
		Unhandled: router.HandlerFunc(s.handleUnhandled),
	})
	return s
}

// Summary counts what one webhook delivery produced.
type Summary struct {
	Saved      int
	Duplicates int
	Statuses   int
	Orphans    int
	Failed     int
	Rejected   int
}

// Process applies every message and status of a delivery. Each record is
// isolated: an error or panic is logged and counted, and processing continues.
func (s *Service) Process(ctx context.Context, changes []model.Change) Summary {
	var sum Summary
	for _, ch := range changes {
		sum.Rejected += ch.Rejected
		if ch.Rejected > 0 {
			metrics.WebhookEventsTotal.WithLabelValues("record", "rejected").Add(float64(ch.Rejected))
		}

		for _, msg := range ch.Messages {
			name := ch.Contacts[util.NormalizePhone(msg.From)]
			var outcome repository.SaveOutcome
			err := isolate(func() error {
				var err error
				outcome, err = s.HandleMessage(ctx, msg, name)
				return err
			})
			switch {
			case err != nil:
				sum.Failed++
				metrics.WebhookEventsTotal.WithLabelValues("message", "failed").Inc()
				s.log.Error("inbound message failed", zap.String("provider_message_id", msg.ID), zap.Error(err))
			case outcome == repository.Duplicate:
				sum.Duplicates++
				metrics.WebhookEventsTotal.WithLabelValues("message", "duplicate").Inc()
			default:
				sum.Saved++
				metrics.WebhookEventsTotal.WithLabelValues("message", "saved").Inc()
			}
		}

		for _, st := range ch.Statuses {
			var applied bool
			err := isolate(func() error {
				var err error
				applied, err = s.ApplyStatus(ctx, st)
				return err
			})
			switch {
			case err != nil:
				sum.Failed++
				metrics.WebhookEventsTotal.WithLabelValues("status", "failed").Inc()
				s.log.Error("status event failed", zap.String("provider_message_id", st.ProviderMessageID), zap.Error(err))
			case !applied:
				sum.Statuses++
				sum.Orphans++
				metrics.WebhookEventsTotal.WithLabelValues("status", "orphan").Inc()
			default:
				sum.Statuses++
				metrics.WebhookEventsTotal.WithLabelValues("status", "applied").Inc()
			}
		}
	}
	return sum
}

// HandleMessage upserts the conversation, records the message in the ledger
// and, for a first delivery only, queues the read receipt and routes it.
func (s *Service) HandleMessage(ctx context.Context, msg model.InboundMessage, contactName string) (repository.SaveOutcome, error) {
	phone := util.NormalizePhone(msg.From)
	if phone == "" {
		return 0, ErrInvalidPhone
	}

	conv, err := storeValue(ctx, s, func(ctx context.Context) (model.Conversation, error) {
		return s.convs.Upsert(ctx, phone, contactName, msg.Timestamp)
	})
	if err != nil {
		return 0, err
	}

	if conv.UserID == nil {
		s.linkIdentity(ctx, &conv)
	}

	entry := model.LedgerEntry{
		ProviderMessageID: msg.ID,
		Phone:             phone,
		Body:              msg.Body(),
		Status:            model.StatusReceived,
		ConversationID:    conv.ID,
		UserID:            conv.UserID,
		MessageType:       string(msg.Kind),
		RawPayload:        msg.Raw,
		CreatedAt:         msg.Timestamp,
	}
	outcome, err := storeValue(ctx, s, func(ctx context.Context) (repository.SaveOutcome, error) {
		return s.ledger.SaveInbound(ctx, entry)
	})
	if err != nil {
		return 0, err
	}
	if outcome == repository.Duplicate {
		s.log.Debug("duplicate delivery skipped", zap.String("provider_message_id", msg.ID))
		return outcome, nil
	}

	if s.cfg.MarkRead {
		id := msg.ID
		s.submit("mark_read", func(ctx context.Context) error {
			return s.gateway.MarkRead(ctx, id)
		})
	}

	intent, err := s.router.Dispatch(ctx, msg, conv)
	metrics.RoutedTotal.WithLabelValues(intent.String()).Inc()
	if err != nil {
		// The message is persisted; handler failures are logged only.
		s.log.Error("route handler failed",
			zap.String("provider_message_id", msg.ID),
			zap.String("intent", intent.String()),
			zap.Error(err),
		)
	}
	return outcome, nil
}

func (s *Service) linkIdentity(ctx context.Context, conv *model.Conversation) {
	uid, err := s.identity.Resolve(ctx, conv.Phone)
	if err != nil {
		s.log.Warn("identity resolution failed", zap.String("phone", conv.Phone), zap.Error(err))
		return
	}
	if uid == "" {
		return
	}
	if err := s.store(ctx, func(ctx context.Context) error {
		return s.convs.LinkToUser(ctx, conv.Phone, uid)
	}); err != nil {
		s.log.Warn("link conversation to user failed", zap.String("phone", conv.Phone), zap.Error(err))
		return
	}
	conv.UserID = &uid
}

// store runs fn under the storage timeout. The context is detached from the
// caller's cancellation so a provider disconnect cannot abort a half-written batch.
func (s *Service) store(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StorageTimeout)
	defer cancel()
	return fn(sctx)
}

func storeValue[T any](ctx context.Context, s *Service, fn func(context.Context) (T, error)) (T, error) {
	var v T
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

func (s *Service) submit(name string, fn tasks.Func) {
	if s.tasks == nil {
		s.log.Warn("no task runner, side effect skipped", zap.String("task", name))
		return
	}
	s.tasks.Submit(name, fn)
}

func isolate(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
