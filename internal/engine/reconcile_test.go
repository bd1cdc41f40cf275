package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	testclock "k8s.io/utils/clock/testing"

	"github.com/okian/racesync/internal/adapters/mq/queue"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/internal/engine"
	logging "github.com/okian/racesync/pkg/logger"
)

func newScheduler(q queue.Queue, clk *testclock.FakeClock) *engine.Scheduler {
	return engine.NewScheduler(context.Background(), q, clk, time.Second, logging.Nop())
}

func nextTask(q *queue.InMemoryQueue) (queue.Task, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	select {
	case t, ok := <-q.Dequeue(ctx):
		return t, ok
	case <-ctx.Done():
		return queue.Task{}, false
	}
}

func TestSchedulerCoalesces(t *testing.T) {
	Convey("Given a scheduler with a one second delay", t, func() {
		clk := testclock.NewFakeClock(time.Now())
		q := queue.NewInMemoryQueue()
		s := newScheduler(q, clk)

		Convey("When the same collection is scheduled twice before firing", func() {
			h1 := s.Schedule(model.CollectionRaces)
			h2 := s.Schedule(model.CollectionRaces)

			Convey("Then both calls share one handle", func() {
				So(h2, ShouldEqual, h1)
				So(h1.Collection(), ShouldEqual, model.CollectionRaces)
				So(s.Pending(model.CollectionRaces), ShouldBeTrue)
				So(s.Pending(model.CollectionApplications), ShouldBeFalse)
			})

			Convey("Then nothing is queued before the delay elapses", func() {
				clk.Step(999 * time.Millisecond)
				So(q.Len(context.Background()), ShouldEqual, 0)
				So(s.Pending(model.CollectionRaces), ShouldBeTrue)
			})

			Convey("Then exactly one task is queued when it fires", func() {
				clk.Step(time.Second)
				So(q.Len(context.Background()), ShouldEqual, 1)
				So(s.Pending(model.CollectionRaces), ShouldBeFalse)

				task, ok := nextTask(q)
				So(ok, ShouldBeTrue)
				So(task.Collection, ShouldEqual, model.CollectionRaces)
				So(task.ID, ShouldNotBeEmpty)

				task.Finish(nil)
				So(h1.Wait(context.Background()), ShouldBeNil)
			})

			Convey("Then a schedule after firing arms a fresh handle", func() {
				clk.Step(time.Second)
				h3 := s.Schedule(model.CollectionRaces)
				So(h3, ShouldNotEqual, h1)
				So(s.Pending(model.CollectionRaces), ShouldBeTrue)
			})
		})

		Convey("When different collections are scheduled", func() {
			hr := s.Schedule(model.CollectionRaces)
			ha := s.Schedule(model.CollectionApplications)
			clk.Step(time.Second)

			Convey("Then each gets its own task", func() {
				So(ha, ShouldNotEqual, hr)
				So(q.Len(context.Background()), ShouldEqual, 2)
			})
		})
	})
}

func TestSchedulerStop(t *testing.T) {
	Convey("Given a pending refresh", t, func() {
		clk := testclock.NewFakeClock(time.Now())
		q := queue.NewInMemoryQueue()
		s := newScheduler(q, clk)
		h := s.Schedule(model.CollectionApplications)

		Convey("When it is stopped", func() {
			So(h.Stop(), ShouldBeTrue)

			Convey("Then it resolves as canceled and never runs", func() {
				So(errors.Is(h.Wait(context.Background()), engine.ErrCanceled), ShouldBeTrue)
				So(errors.Is(h.Err(), engine.ErrCanceled), ShouldBeTrue)
				So(s.Pending(model.CollectionApplications), ShouldBeFalse)
				clk.Step(time.Second)
				So(q.Len(context.Background()), ShouldEqual, 0)
				So(h.Stop(), ShouldBeFalse)
			})
		})

		Convey("When it fired already", func() {
			clk.Step(time.Second)

			Convey("Then Stop has no effect", func() {
				So(h.Stop(), ShouldBeFalse)
				So(h.Err(), ShouldBeNil)
			})
		})

		Convey("When everything is canceled", func() {
			other := s.Schedule(model.CollectionRaces)
			s.CancelAll()

			Convey("Then every handle resolves and nothing is pending", func() {
				So(errors.Is(h.Err(), engine.ErrCanceled), ShouldBeTrue)
				So(errors.Is(other.Err(), engine.ErrCanceled), ShouldBeTrue)
				So(s.Pending(model.CollectionRaces), ShouldBeFalse)
				So(s.Pending(model.CollectionApplications), ShouldBeFalse)
			})
		})
	})
}

func TestSchedulerClosedQueue(t *testing.T) {
	Convey("Given a scheduler whose queue is closed", t, func() {
		clk := testclock.NewFakeClock(time.Now())
		q := queue.NewInMemoryQueue()
		s := newScheduler(q, clk)
		h := s.Schedule(model.CollectionRaces)
		So(q.Close(), ShouldBeNil)

		Convey("When the refresh fires", func() {
			clk.Step(time.Second)

			Convey("Then the handle resolves with the enqueue error", func() {
				err := h.Wait(context.Background())
				So(errors.Is(err, queue.ErrClosed), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "races")
			})
		})
	})
}
