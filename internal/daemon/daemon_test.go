package daemon

import (
	"context"
	"testing"
)

func TestDaemonStartStop(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestDaemonSecondInstanceIsRejected(t *testing.T) {
	first, store, cfg := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := New(cfg, store, first.service, first.sweeper, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail the lock")
	}
}
