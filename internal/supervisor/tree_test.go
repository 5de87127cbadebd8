package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(zerolog.Nop(), TreeConfig{ShutdownTimeout: time.Second})

	var engineRuns, transportRuns atomic.Int32
	started := make(chan struct{}, 2)
	tree.AddEngineService(Func{Name: "engine", Run: func(ctx context.Context) error {
		engineRuns.Add(1)
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}})
	tree.AddTransportService(Func{Name: "admin", Run: func(ctx context.Context) error {
		transportRuns.Add(1)
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("services did not start")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("tree did not stop")
	}
	if engineRuns.Load() != 1 || transportRuns.Load() != 1 {
		t.Fatalf("runs engine=%d transport=%d", engineRuns.Load(), transportRuns.Load())
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(zerolog.Nop(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	var runs atomic.Int32
	again := make(chan struct{})
	tree.AddTransportService(Func{Name: "flaky", Run: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("boom")
		}
		close(again)
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := tree.ServeBackground(ctx)
	select {
	case <-again:
	case <-time.After(3 * time.Second):
		t.Fatalf("service not restarted, runs=%d", runs.Load())
	}
	cancel()
	<-done
}

func TestFuncString(t *testing.T) {
	if (Func{Name: "x"}).String() != "x" {
		t.Fatalf("name")
	}
}
