package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/racesync/internal/adapters/mq/queue"
	worker "github.com/okian/racesync/internal/adapters/mq/worker"
	model "github.com/okian/racesync/internal/domain/model"
	logging "github.com/okian/racesync/pkg/logger"
)

type mockRefresher struct {
	mu    sync.Mutex
	calls []model.Collection
	err   error
	panic bool
}

func (m *mockRefresher) Refresh(_ context.Context, task queue.Task) error { //nolint:gocritic // hugeParam
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, task.Collection)
	if m.panic {
		panic("refresh exploded")
	}
	return m.err
}

func (m *mockRefresher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task completion")
		return nil
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over an in-memory queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		ref := &mockRefresher{}
		w := worker.NewInMemoryWorker(q, ref, worker.WithName("w1"), worker.WithLogger(logging.Nop()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a task is enqueued", func() {
			done := make(chan error, 1)
			convey.So(q.Enqueue(ctx, queue.Task{ID: "t1", Collection: model.CollectionRaces, Done: func(err error) { done <- err }}), convey.ShouldBeNil)
			err := waitErr(t, done)

			convey.Convey("Then the refresher should run and report success", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ref.count(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the refresh fails", func() {
			ref.err = errors.New("backend down")
			done := make(chan error, 1)
			_ = q.Enqueue(ctx, queue.Task{ID: "t2", Collection: model.CollectionApplications, Done: func(err error) { done <- err }})

			convey.Convey("Then the error should reach the task", func() {
				convey.So(waitErr(t, done), convey.ShouldEqual, ref.err)
			})
		})

		convey.Convey("When the refresh panics", func() {
			ref.panic = true
			done := make(chan error, 1)
			_ = q.Enqueue(ctx, queue.Task{ID: "t3", Collection: model.CollectionRaces, Done: func(err error) { done <- err }})

			convey.Convey("Then the worker should survive and report the panic", func() {
				err := waitErr(t, done)
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "refresh exploded")
			})
		})

		convey.Convey("When shut down", func() {
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		var processed atomic.Int32
		refresher := worker.RefresherFunc(func(context.Context, queue.Task) error {
			processed.Add(1)
			return nil
		})
		pool := worker.NewPool(3, q, refresher, worker.WithLogger(logging.Nop()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When many tasks are enqueued", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				_ = q.Enqueue(ctx, queue.Task{Collection: model.CollectionRaces, Done: func(error) { wg.Done() }})
			}
			wg.Wait()

			convey.Convey("Then all should be processed", func() {
				convey.So(pool.Size(), convey.ShouldEqual, 3)
				convey.So(processed.Load(), convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When the pool shuts down", func() {
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then the queue should be closed", func() {
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool created with no worker count", t, func() {
		pool := worker.NewPool(0, queue.NewInMemoryQueue(), worker.RefresherFunc(func(context.Context, queue.Task) error { return nil }))
		convey.So(pool.Size(), convey.ShouldEqual, 2)
	})
}
