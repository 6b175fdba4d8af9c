// Package metering prices a conversion from the source's measured duration
// and charges it against the owner's balance exactly once per task.
package metering

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"resonate/internal/logging"
	"resonate/internal/services"
	"resonate/internal/services/audioinfo"
	"resonate/internal/services/balance"
	"resonate/internal/tasks"
)

const (
	debitAttempts   = 2
	debitRetryDelay = 100 * time.Millisecond
)

// Cost metadata keys persisted on the task.
const (
	MetaDurationSeconds = "duration_seconds"
	MetaPriceCoins      = "price_coins"
	MetaReceiptID       = "receipt_id"
)

// Analyzer measures a source recording.
type Analyzer interface {
	Analyze(ctx context.Context, audioURL string) (*audioinfo.Analysis, error)
}

// Ledger charges coins against an owner's balance.
type Ledger interface {
	Debit(ctx context.Context, ownerID string, amount float64, metadata map[string]any) (*balance.Receipt, error)
}

// Meter analyzes, prices, and charges tasks before dispatch.
type Meter struct {
	store          *tasks.Store
	analyzer       Analyzer
	ledger         Ledger
	coinsPerMinute float64
	logger         *slog.Logger
}

// NewMeter builds a cost meter.
func NewMeter(store *tasks.Store, analyzer Analyzer, ledger Ledger, coinsPerMinute float64, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Meter{
		store:          store,
		analyzer:       analyzer,
		ledger:         ledger,
		coinsPerMinute: coinsPerMinute,
		logger:         logging.WithComponent(logger, "metering"),
	}
}

// Price converts a measured duration into coins.
func (m *Meter) Price(durationSeconds float64) float64 {
	price := m.coinsPerMinute * durationSeconds / 60
	return math.Round(price*100) / 100
}

// Charge measures the task's source, prices it, and debits the owner.
//
// The debit runs at most once per task: a task already carrying a receipt in
// its cost metadata is never re-charged, and only tasks still at init are
// eligible. On insufficient funds or a source without speech the task is
// failed here with its canonical reason and the marker error is returned;
// transient analysis and ledger failures are returned unwrapped for the
// caller to retry or surface.
//
// The measurement is returned so the dispatch path can derive the pitch
// shift without a second analysis round trip.
func (m *Meter) Charge(ctx context.Context, task *tasks.Task) (*audioinfo.Analysis, error) {
	if task.Status != tasks.StatusInit {
		return nil, services.Wrap(services.ErrInvalidTransition, "metering", "charge",
			"only tasks at init are charged, task is "+string(task.Status), nil)
	}

	analysis, err := m.analyzer.Analyze(ctx, task.SourceURL)
	if err != nil {
		return nil, err
	}
	if !analysis.HasSpeech() {
		if _, failErr := m.store.Transition(ctx, tasks.TransitionRequest{
			TaskID:       task.ID,
			From:         task.Status,
			To:           tasks.StatusNoSpeech,
			ErrorMessage: "No speech detected in source audio.",
		}); failErr != nil {
			return nil, failErr
		}
		m.logger.Warn("source has no speech",
			logging.String(logging.FieldTaskID, task.ID))
		return nil, services.Wrap(services.ErrValidation, "metering", "charge", "source has no speech", nil)
	}

	price := m.Price(analysis.DurationSeconds)

	if receipt, ok := task.CostMetadata[MetaReceiptID].(string); ok && receipt != "" {
		m.logger.Info("task already charged, skipping debit",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String("receipt_id", receipt))
		return analysis, nil
	}

	receipt, err := m.debitWithRetry(ctx, task, price, analysis.DurationSeconds)
	if err != nil {
		if errors.Is(err, services.ErrInsufficientFunds) {
			if _, failErr := m.store.Fail(ctx, task.ID, task.Status, "Insufficient balance."); failErr != nil {
				return nil, failErr
			}
			m.logger.Warn("owner balance too low",
				logging.String(logging.FieldTaskID, task.ID),
				logging.String(logging.FieldOwnerID, task.OwnerID),
				logging.Float64("price_coins", price))
		}
		return nil, err
	}

	if err := m.store.MergeCostMetadata(ctx, task.ID, map[string]any{
		MetaDurationSeconds: analysis.DurationSeconds,
		MetaPriceCoins:      price,
		MetaReceiptID:       receipt.ID,
	}); err != nil {
		return nil, err
	}

	m.logger.Info("task charged",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldOwnerID, task.OwnerID),
		logging.Float64(MetaDurationSeconds, analysis.DurationSeconds),
		logging.Float64(MetaPriceCoins, price),
		logging.String("receipt_id", receipt.ID))
	return analysis, nil
}

// debitWithRetry retries the ledger call once on transient failure. Business
// rejections (insufficient funds) are never retried.
func (m *Meter) debitWithRetry(ctx context.Context, task *tasks.Task, price, durationSeconds float64) (*balance.Receipt, error) {
	metadata := map[string]any{
		"task_id":          task.ID,
		"duration_seconds": durationSeconds,
		"reason":           "voice_conversion",
	}

	var lastErr error
	for attempt := 1; attempt <= debitAttempts; attempt++ {
		receipt, err := m.ledger.Debit(ctx, task.OwnerID, price, metadata)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !errors.Is(err, services.ErrTransient) {
			return nil, err
		}
		if attempt < debitAttempts {
			m.logger.Warn("debit failed, retrying",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Int("attempt", attempt),
				logging.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(debitRetryDelay):
			}
		}
	}
	return nil, lastErr
}
