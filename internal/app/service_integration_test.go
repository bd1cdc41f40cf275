package service_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/racesync/internal/adapters/http/api"
	service "github.com/okian/racesync/internal/app"
	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/internal/engine"
	"github.com/okian/racesync/pkg/logger"
)

func startAgainst(t *testing.T, backend *api.Server) (*service.Service, func()) {
	t.Helper()
	ts := httptest.NewServer(backend.Handler())
	svc := service.New(
		service.WithBackend(ts.URL, ts.URL),
		service.WithReconcileDelay(10*time.Millisecond),
		service.WithVerifyDelay(10*time.Millisecond),
		service.WithAuthRetry(1, time.Millisecond, 1),
		service.WithLogger(logger.Nop()),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	return svc, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
		ts.Close()
	}
}

func raceNamed(races []model.Race, name string) (model.Race, bool) {
	for _, r := range races {
		if r.Name == name {
			return r, true
		}
	}
	return model.Race{}, false
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service talking to the mock backend", t, func() {
		seed := model.Race{ID: "race-berlin", Name: "Berlin", Distance: model.DistanceMarathon}
		backend := api.NewServer(api.WithRaces(seed), api.WithLogger(logger.Nop()))
		svc, stop := startAgainst(t, backend)
		defer stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When an administrator creates a race", func() {
			s, err := svc.SignIn(ctx, "admin@example.com", model.RoleAdministrator)
			So(err, ShouldBeNil)
			So(s.Admin(), ShouldBeTrue)

			e, err := svc.Engine()
			So(err, ShouldBeNil)
			p, err := e.CreateRace(model.RaceDraft{Name: "Amsterdam", Distance: model.Distance10K})
			So(err, ShouldBeNil)
			_, err = p.Wait(ctx)
			So(err, ShouldBeNil)
			So(svc.Settle(ctx), ShouldBeNil)

			Convey("Then the reconciled list carries the server id in order", func() {
				races := e.Races()
				So(races, ShouldHaveLength, 2)
				So(races[0].Name, ShouldEqual, "Amsterdam")
				So(model.IsTempID(races[0].ID), ShouldBeFalse)
				So(svc.GetStats()["races"], ShouldEqual, 2)
			})
		})

		Convey("When an applicant registers", func() {
			_, err := svc.SignIn(ctx, "runner@example.com", model.RoleApplicant)
			So(err, ShouldBeNil)
			e, _ := svc.Engine()

			form := model.RegistrationForm{RaceID: seed.ID, FirstName: "Rita", LastName: "Runner"}
			p, err := e.Register(form)
			So(err, ShouldBeNil)
			app, err := p.Wait(ctx)

			Convey("Then the verified application is listed", func() {
				So(err, ShouldBeNil)
				So(model.IsTempID(app.ID), ShouldBeFalse)
				So(e.Applications(), ShouldHaveLength, 1)
				So(e.RaceName(app.RaceID), ShouldEqual, "Berlin")
			})

			Convey("Then a second registration is a conflict warning", func() {
				p, err := e.Register(form)
				So(err, ShouldBeNil)
				_, err = p.Wait(ctx)
				fe, ok := failure.As(err)
				So(ok, ShouldBeTrue)
				So(fe.Category, ShouldEqual, failure.CategoryConflict)
				So(fe.Tone, ShouldEqual, failure.ToneWarning)
				So(fe.Message, ShouldContainSubstring, "Already registered")
				So(e.Applications(), ShouldHaveLength, 1)
			})

			Convey("Then withdrawing removes it", func() {
				d, err := e.DeleteApplication(app.ID)
				So(err, ShouldBeNil)
				_, err = d.Wait(ctx)
				So(err, ShouldBeNil)
				So(svc.Settle(ctx), ShouldBeNil)
				So(e.Applications(), ShouldBeEmpty)
			})
		})

		Convey("When the backend acknowledges a registration it never applies", func() {
			_, err := svc.SignIn(ctx, "runner@example.com", model.RoleApplicant)
			So(err, ShouldBeNil)
			e, _ := svc.Engine()
			backend.DropNext("POST /api/v1/applications")

			p, err := e.Register(model.RegistrationForm{RaceID: seed.ID, FirstName: "Rita", LastName: "Runner"})
			So(err, ShouldBeNil)
			_, err = p.Wait(ctx)

			Convey("Then the registration is not confirmed", func() {
				So(engine.IsNotConfirmed(err), ShouldBeTrue)
				So(e.Applications(), ShouldBeEmpty)
			})
		})

		Convey("When an applicant tries to create a race", func() {
			_, err := svc.SignIn(ctx, "runner@example.com", model.RoleApplicant)
			So(err, ShouldBeNil)
			e, _ := svc.Engine()

			p, err := e.CreateRace(model.RaceDraft{Name: "Oslo", Distance: model.Distance5K})
			So(err, ShouldBeNil)
			_, err = p.Wait(ctx)

			Convey("Then the server refuses and the race is rolled back", func() {
				So(failure.IsCategory(err, failure.CategoryAuthorization), ShouldBeTrue)
				_, found := raceNamed(e.Races(), "Oslo")
				So(found, ShouldBeFalse)
			})
		})

		Convey("When signing in with the wrong role", func() {
			_, err := svc.SignIn(ctx, "runner@example.com", model.RoleAdministrator)

			Convey("Then the role message surfaces", func() {
				fe, ok := failure.As(err)
				So(ok, ShouldBeTrue)
				So(fe.Message, ShouldEqual, failure.MsgWrongRole)
			})
		})
	})
}
