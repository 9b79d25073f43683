package ingest

import (
	"context"
	"fmt"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	"go.uber.org/zap"
)

// ApplyStatus records the status event, then moves the ledger entry's status.
// The event is stored even when the message is unknown; the ledger update is
// best-effort and a miss is not an error. It reports whether the entry changed.
func (s *Service) ApplyStatus(ctx context.Context, st model.StatusUpdate) (bool, error) {
	ev := model.StatusEvent{
		ProviderMessageID: st.ProviderMessageID,
		Status:            st.Status,
		EventAt:           st.Timestamp,
		RecipientPhone:    util.NormalizePhone(st.RecipientID),
		ErrorCode:         st.ErrorCode,
		ErrorTitle:        st.ErrorTitle,
		RawPayload:        st.Raw,
	}
	if err := s.store(ctx, func(ctx context.Context) error {
		_, err := s.events.Insert(ctx, ev)
		return err
	}); err != nil {
		return false, fmt.Errorf("record status: %w", err)
	}

	applied, err := storeValue(ctx, s, func(ctx context.Context) (bool, error) {
		return s.ledger.UpdateStatus(ctx, st.ProviderMessageID, st.Status, s.cfg.MonotonicStatus)
	})
	if err != nil {
		s.log.Warn("ledger status update failed",
			zap.String("provider_message_id", st.ProviderMessageID),
			zap.String("status", st.Status.String()),
			zap.Error(err),
		)
		return false, nil
	}
	if !applied {
		s.log.Debug("status not applied to ledger",
			zap.String("provider_message_id", st.ProviderMessageID),
			zap.String("status", st.Status.String()),
			zap.Bool("monotonic", s.cfg.MonotonicStatus),
		)
	}
	if st.Status == model.StatusFailed && st.ErrorCode != nil {
		s.log.Info("provider reported delivery failure",
			zap.String("provider_message_id", st.ProviderMessageID),
			zap.Int("error_code", *st.ErrorCode),
		)
	}
	return applied, nil
}
