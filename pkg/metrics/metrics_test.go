package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a dedicated registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "racesync")
				So(manager.subsystem, ShouldEqual, "client")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("engine"),
				WithHistogramBuckets([]float64{1, 10}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.mutations.WithLabelValues("races", "create", "confirmed").Inc()

			Convey("Then metric names should carry the namespace and constant labels", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "test_engine_mutations_total" {
						found = true
						labels := f.GetMetric()[0].GetLabel()
						var env string
						for _, l := range labels {
							if l.GetName() == "env" {
								env = l.GetValue()
							}
						}
						So(env, ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When options receive empty values", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "racesync")
				So(manager.subsystem, ShouldEqual, "client")
				So(len(manager.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording store writes", func() {
			before := testutil.ToFloat64(globalManager.storeWrites.WithLabelValues("races", "upsert"))
			RecordStoreWrite("races", "upsert")
			RecordStoreWrite("races", "upsert")
			UpdateStoreSize("races", 3)

			Convey("Then counters and gauges should move", func() {
				after := testutil.ToFloat64(globalManager.storeWrites.WithLabelValues("races", "upsert"))
				So(after-before, ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.storeSize.WithLabelValues("races")), ShouldEqual, 3)
			})
		})

		Convey("When flipping the session gauge", func() {
			UpdateSessionActive(true)
			So(testutil.ToFloat64(globalManager.sessionActive), ShouldEqual, 1)
			UpdateSessionActive(false)
			So(testutil.ToFloat64(globalManager.sessionActive), ShouldEqual, 0)
		})

		Convey("When recording every helper", func() {
			So(func() {
				RecordStoreDiscardedWrite("applications")
				RecordMutation("races", "delete", "rolled_back")
				RecordMutationLatency("delete", 12)
				RecordReconcileScheduled("races")
				RecordReconcileCoalesced("races")
				RecordReconcileRun("races", "replaced")
				RecordReconcileLatency("races", 40)
				RecordVerification("confirmed")
				RecordRetryAttempt("issue_token")
				RecordClassifiedError("conflict")
				RecordClientRequest("races", "GET", "200")
				RecordClientRequestDuration("races", "GET", 3)
				UpdateQueueSize(2)
				RecordQueueEnqueueError("closed")
				UpdateWorkerActiveCount(2)
				RecordWorkerTask("ok")
				RecordHTTPRequest("races", "GET", "200")
				RecordHTTPRequestDuration("races", "GET", "200", 1)
			}, ShouldNotPanic)
		})

		Convey("When gathering the custom registry", func() {
			RecordClassifiedError("server")
			families, err := GetRegistry().Gather()

			Convey("Then our metrics should be exposed without Go runtime collectors", func() {
				So(err, ShouldBeNil)
				for _, f := range families {
					So(strings.HasPrefix(f.GetName(), "racesync_"), ShouldBeTrue)
				}
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				RecordStoreWrite("concurrency", "remove")
				RecordMutation("concurrency", "update", "confirmed")
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(globalManager.storeWrites.WithLabelValues("concurrency", "remove")); got != 1000 {
		t.Fatalf("expected 1000 writes, got %v", got)
	}
}
