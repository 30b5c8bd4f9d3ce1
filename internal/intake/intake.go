// Package intake admits raw mailbox messages into the processing pipeline,
// deduplicating on the provider-assigned message identity.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"
)

// Intake turns raw messages into durable processing records.
type Intake struct {
	storage service.Storage
	logger  *slog.Logger
}

// New creates an intake gate backed by the given storage.
func New(storage service.Storage, logger *slog.Logger) (*Intake, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{storage: storage, logger: logger}, nil
}

// Admit records a message for processing and reports whether a new record was
// created. Re-admitting a message the account has already ingested returns the
// existing record untouched, with no new row and no re-queue. This is the sole
// gate against duplicate processing of the same provider message.
func (i *Intake) Admit(ctx context.Context, accountID string, msg model.InboundEmail) (*model.EmailRecord, bool, error) {
	if accountID == "" {
		return nil, false, fmt.Errorf("%w: account id is required", common.ErrInvalidAccount)
	}
	if msg.ExternalID == "" {
		return nil, false, fmt.Errorf("message has no external id")
	}

	existing, err := i.storage.GetEmailRecordByExternalID(ctx, accountID, msg.ExternalID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up existing record: %w", err)
	}

	now := time.Now().UTC()
	record := &model.EmailRecord{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		ExternalID: msg.ExternalID,
		Sender:     msg.Sender,
		Subject:    msg.Subject,
		Body:       msg.Body,
		ReceivedAt: msg.ReceivedAt,
		Status:     model.RecordPending,
		Priority:   model.PriorityForAge(msg.ReceivedAt, now),
		CreatedAt:  now,
	}

	if err := i.storage.CreateEmailRecord(ctx, record); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			// Lost a race with a concurrent admit of the same message; the
			// winner's record is the canonical one.
			winner, lookupErr := i.storage.GetEmailRecordByExternalID(ctx, accountID, msg.ExternalID)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("failed to resolve duplicate record: %w", lookupErr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("failed to create record: %w", err)
	}

	i.logger.Debug("Admitted message",
		"account", accountID,
		"external_id", msg.ExternalID,
		"priority", record.Priority)

	return record, true, nil
}
