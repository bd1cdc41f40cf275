package engine_test

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	testclock "k8s.io/utils/clock/testing"

	"github.com/okian/racesync/internal/adapters/http/client"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/internal/domain/retry"
	"github.com/okian/racesync/internal/domain/token"
	"github.com/okian/racesync/internal/engine"
	logging "github.com/okian/racesync/pkg/logger"
)

var testSecret = []byte("engine-test-secret")

// fakeBackend serves canned collections. Hooks override single calls.
type fakeBackend struct {
	mu    sync.Mutex
	races []model.Race
	apps  []model.Application
	calls map[string]int

	tokenErrs []error

	createRace func(ctx context.Context, draft model.RaceDraft) (model.Race, error)
	patchRace  func(ctx context.Context, id string, patch model.RacePatch) (model.Race, error)
	deleteRace func(ctx context.Context, id string) error
	listApps   func(ctx context.Context) ([]model.Application, error)
	createApp  func(ctx context.Context, form model.RegistrationForm) (model.Application, error)
	deleteApp  func(ctx context.Context, id string) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int)}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) setRaces(races ...model.Race) {
	f.mu.Lock()
	f.races = races
	f.mu.Unlock()
}

func (f *fakeBackend) addApp(a model.Application) {
	f.mu.Lock()
	f.apps = append(f.apps, a)
	f.mu.Unlock()
}

func (f *fakeBackend) IssueToken(_ context.Context, email, role string) (string, error) {
	f.mu.Lock()
	f.calls["token"]++
	var err error
	if len(f.tokenErrs) > 0 {
		err, f.tokenErrs = f.tokenErrs[0], f.tokenErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return token.Issue(testSecret, email, role, time.Now(), time.Hour)
}

func (f *fakeBackend) ListRaces(context.Context, string) ([]model.Race, error) {
	f.hit("list_races")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Race(nil), f.races...), nil
}

func (f *fakeBackend) CreateRace(ctx context.Context, _ string, draft model.RaceDraft) (model.Race, error) {
	f.hit("create_race")
	if f.createRace != nil {
		return f.createRace(ctx, draft)
	}
	r := model.Race{ID: "race-" + strings.ToLower(draft.Name), Name: draft.Name, Distance: draft.Distance}
	f.mu.Lock()
	f.races = append(f.races, r)
	f.mu.Unlock()
	return r, nil
}

func (f *fakeBackend) PatchRace(ctx context.Context, _ string, id string, patch model.RacePatch) (model.Race, error) {
	f.hit("patch_race")
	if f.patchRace != nil {
		return f.patchRace(ctx, id, patch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.races {
		if r.ID == id {
			f.races[i] = patch.Apply(r)
			return f.races[i], nil
		}
	}
	return model.Race{}, &client.StatusError{Status: 404, Body: []byte(`{"error":"Race not found"}`)}
}

func (f *fakeBackend) DeleteRace(ctx context.Context, _ string, id string) error {
	f.hit("delete_race")
	if f.deleteRace != nil {
		return f.deleteRace(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.races {
		if r.ID == id {
			f.races = append(f.races[:i], f.races[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) ListApplications(ctx context.Context, _ string) ([]model.Application, error) {
	f.hit("list_apps")
	if f.listApps != nil {
		return f.listApps(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Application(nil), f.apps...), nil
}

func (f *fakeBackend) CreateApplication(ctx context.Context, _ string, form model.RegistrationForm) (model.Application, error) {
	f.hit("create_app")
	if f.createApp != nil {
		return f.createApp(ctx, form)
	}
	a := form.Application("app-"+form.RaceID, "runner@example.com")
	f.addApp(a)
	return model.Application{ID: a.ID}, nil
}

func (f *fakeBackend) DeleteApplication(ctx context.Context, _ string, id string) error {
	f.hit("delete_app")
	if f.deleteApp != nil {
		return f.deleteApp(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.apps {
		if a.ID == id {
			f.apps = append(f.apps[:i], f.apps[i+1:]...)
			break
		}
	}
	return nil
}

func connRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

func statusErr(status int, body string) error {
	return &client.StatusError{Method: "TEST", URL: "http://backend", Status: status, Body: []byte(body)}
}

func newEngine(b engine.Backend, clk *testclock.FakeClock, opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithClock(clk),
		engine.WithLogger(logging.Nop()),
		engine.WithRetryPolicy(retry.New(retry.WithClock(clk), retry.WithAttempts(1))),
		engine.WithRequestTimeout(5 * time.Second),
	}
	e := engine.New(b, append(base, opts...)...)
	e.Start()
	return e
}

func closeEngine(e *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.Close(ctx)
}

// stepWhenWaiting advances clk by d once something waits on it.
func stepWhenWaiting(t *testing.T, clk *testclock.FakeClock, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !clk.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a clock waiter")
		}
		time.Sleep(time.Millisecond)
	}
	clk.Step(d)
}

func waitCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func names(races []model.Race) []string {
	out := make([]string, len(races))
	for i, r := range races {
		out[i] = r.Name
	}
	return out
}
