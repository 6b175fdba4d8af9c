package metering_test

import (
	"context"
	"errors"
	"testing"

	"resonate/internal/metering"
	"resonate/internal/services"
	"resonate/internal/services/audioinfo"
	"resonate/internal/services/balance"
	"resonate/internal/tasks"
	"resonate/internal/testsupport"
)

type fakeAnalyzer struct {
	analysis audioinfo.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(context.Context, string) (*audioinfo.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := f.analysis
	return &cp, nil
}

type fakeLedger struct {
	errs    []error
	calls   int
	amounts []float64
}

func (f *fakeLedger) Debit(_ context.Context, _ string, amount float64, _ map[string]any) (*balance.Receipt, error) {
	f.calls++
	f.amounts = append(f.amounts, amount)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &balance.Receipt{ID: "rcpt-1", Amount: amount}, nil
}

func speechAnalysis(duration float64) audioinfo.Analysis {
	return audioinfo.Analysis{DurationSeconds: duration, PitchMean: 185.5}
}

func TestChargeDebitsAndRecordsReceipt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task, tasks.StatusInit)

	ledger := &fakeLedger{}
	meter := metering.NewMeter(store, &fakeAnalyzer{analysis: speechAnalysis(120)}, ledger, 3.0, nil)

	analysis, err := meter.Charge(context.Background(), task)
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if analysis.DurationSeconds != 120 {
		t.Fatalf("expected analysis to be returned, got %+v", analysis)
	}
	if ledger.calls != 1 {
		t.Fatalf("expected one debit, got %d", ledger.calls)
	}
	if ledger.amounts[0] != 6.0 {
		t.Fatalf("expected 6 coins for two minutes at 3/min, got %v", ledger.amounts[0])
	}

	loaded, err := store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded.CostMetadata[metering.MetaReceiptID] != "rcpt-1" {
		t.Fatalf("expected receipt in cost metadata, got %v", loaded.CostMetadata)
	}
	if loaded.CostMetadata[metering.MetaPriceCoins] != 6.0 {
		t.Fatalf("expected price in cost metadata, got %v", loaded.CostMetadata)
	}
}

func TestChargeSkipsDebitWhenReceiptExists(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task, tasks.StatusInit)

	ctx := context.Background()
	if err := store.MergeCostMetadata(ctx, task.ID, map[string]any{metering.MetaReceiptID: "rcpt-prev"}); err != nil {
		t.Fatalf("MergeCostMetadata: %v", err)
	}
	task, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	ledger := &fakeLedger{}
	meter := metering.NewMeter(store, &fakeAnalyzer{analysis: speechAnalysis(60)}, ledger, 3.0, nil)

	if _, err := meter.Charge(ctx, task); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if ledger.calls != 0 {
		t.Fatalf("expected no debit for an already charged task, got %d", ledger.calls)
	}
}

func TestChargeInsufficientFundsFailsTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task, tasks.StatusInit)

	ledger := &fakeLedger{errs: []error{services.ErrInsufficientFunds}}
	meter := metering.NewMeter(store, &fakeAnalyzer{analysis: speechAnalysis(60)}, ledger, 3.0, nil)

	_, err := meter.Charge(context.Background(), task)
	if !errors.Is(err, services.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if ledger.calls != 1 {
		t.Fatalf("business rejection must not be retried, got %d calls", ledger.calls)
	}

	loaded, getErr := store.GetByID(context.Background(), task.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if loaded.Status != tasks.StatusError {
		t.Fatalf("expected task to fail, got %s", loaded.Status)
	}
	if loaded.ErrorMessage != "Insufficient balance." {
		t.Fatalf("expected canonical reason, got %q", loaded.ErrorMessage)
	}
}

func TestChargeRetriesTransientLedgerFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task, tasks.StatusInit)

	ledger := &fakeLedger{errs: []error{services.Wrap(services.ErrTransient, "balance", "debit", "ledger returned 503", nil)}}
	meter := metering.NewMeter(store, &fakeAnalyzer{analysis: speechAnalysis(60)}, ledger, 3.0, nil)

	if _, err := meter.Charge(context.Background(), task); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if ledger.calls != 2 {
		t.Fatalf("expected one retry after transient failure, got %d calls", ledger.calls)
	}
}

func TestChargeMarksNoSpeechSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task, tasks.StatusInit)

	ledger := &fakeLedger{}
	meter := metering.NewMeter(store, &fakeAnalyzer{analysis: audioinfo.Analysis{DurationSeconds: 45}}, ledger, 3.0, nil)

	_, err := meter.Charge(context.Background(), task)
	if err == nil {
		t.Fatal("expected speechless source to be rejected")
	}
	if ledger.calls != 0 {
		t.Fatal("speechless source must not be charged")
	}

	loaded, getErr := store.GetByID(context.Background(), task.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if loaded.Status != tasks.StatusNoSpeech {
		t.Fatalf("expected no_speech, got %s", loaded.Status)
	}
}

func TestChargeRejectsWrongStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")

	meter := metering.NewMeter(store, &fakeAnalyzer{analysis: speechAnalysis(60)}, &fakeLedger{}, 3.0, nil)

	_, err := meter.Charge(context.Background(), task)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for draft task, got %v", err)
	}
}

func TestPriceRoundsToCents(t *testing.T) {
	meter := metering.NewMeter(nil, nil, nil, 3.0, nil)
	if got := meter.Price(100); got != 5.0 {
		t.Fatalf("expected 5 coins for 100s, got %v", got)
	}
	if got := meter.Price(95); got != 4.75 {
		t.Fatalf("expected 4.75 coins for 95s, got %v", got)
	}
}
