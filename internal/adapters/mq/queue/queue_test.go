package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/racesync/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, Task{ID: "t1", Collection: model.CollectionRaces}); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	task := <-q.Dequeue(ctx)
	if task.ID != "t1" || task.Collection != model.CollectionRaces {
		t.Errorf("unexpected task %+v", task)
	}
	if task.EnqueuedAt.IsZero() {
		t.Error("expected enqueue time to be stamped")
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, Task{ID: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("expected enqueue to succeed, got %v", err)
		}
	}
	if err := q.Enqueue(ctx, Task{ID: "t3"}); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Enqueue(ctx, Task{ID: "t"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := q.Enqueue(ctx, Task{ID: fmt.Sprintf("%d-%d", g, i)}); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 100 {
		t.Fatalf("expected 100 tasks, got %d", l)
	}
	_ = q.Close()

	seen := make(map[string]bool)
	for task := range q.Dequeue(ctx) {
		seen[task.ID] = true
	}
	if len(seen) != 100 {
		t.Errorf("expected 100 distinct tasks, got %d", len(seen))
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if err := q.Enqueue(ctx, Task{ID: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	select {
	case _, ok := <-q.Dequeue(ctx):
		if ok {
			t.Error("expected closed dequeue channel")
		}
	case <-time.After(time.Second):
		t.Error("dequeue channel was not closed")
	}
}

func TestTaskFinish(t *testing.T) {
	var got error
	calls := 0
	task := Task{Done: func(err error) { got = err; calls++ }}
	boom := errors.New("boom")

	task.Finish(boom)
	Task{}.Finish(boom)

	if calls != 1 || !errors.Is(got, boom) {
		t.Errorf("expected one call with boom, got %d calls and %v", calls, got)
	}
}
