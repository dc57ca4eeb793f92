package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkheadAllowsRequestsWithinLimit(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "sandbox", MaxConcurrent: 3})

	var callCount int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func() error {
				atomic.AddInt32(&callCount, 1)
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestBulkheadRejectsWhenFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "sandbox", MaxConcurrent: 1, MaxWait: 0})

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		b.Execute(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected ErrBulkheadFull, got %v", err)
	}

	close(release)
}

func TestBulkheadWaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "sandbox",
		MaxConcurrent: 1,
		MaxWait:       100 * time.Millisecond,
	})

	started := make(chan struct{})
	go func() {
		b.Execute(context.Background(), func() error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}()

	<-started

	err := b.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Errorf("expected slot after wait, got %v", err)
	}
}

func TestBulkheadExecuteWithResult(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "sandbox", MaxConcurrent: 1})
	got, err := ExecuteWithResult(b, context.Background(), func() (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("got %d, %v", got, err)
	}
}
