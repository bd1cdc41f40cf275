package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "github.com/okian/racesync/internal/app"
	"github.com/okian/racesync/internal/config"
	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/internal/engine"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	commandTimeout    = 2 * time.Minute
)

// errUsage marks a malformed command line.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run parses args, signs in, performs one command and prints the reconciled view.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("racesync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		email = fs.String("email", "runner@example.com", "Account email")
		role  = fs.String("role", model.RoleApplicant, "Account role: Applicant or Administrator")
		club  = fs.String("club", "", "Club for apply")
	)
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "failed to load config:", err)
		return err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(stderr)); err != nil {
		fmt.Fprintln(stderr, "failed to initialize logging:", err)
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(ctx, cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	svc := app.New(append(app.FromConfig(cfg), app.WithLogger(log))...)
	if err := svc.Start(ctx); err != nil {
		fmt.Fprintln(stderr, "failed to start service:", err)
		return err
	}
	defer func() { _ = svc.Stop(context.WithoutCancel(ctx)) }()

	if _, err := svc.SignIn(ctx, *email, *role); err != nil {
		report(stderr, err)
		return err
	}
	e, err := svc.Engine()
	if err != nil {
		return err
	}

	cmd := command{engine: e, out: stdout, club: *club}
	if err := cmd.exec(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			fs.Usage()
			return err
		}
		report(stderr, err)
		return err
	}
	if err := svc.Settle(ctx); err != nil {
		log.Warn(ctx, "reconciliation did not finish", logger.Error(err))
	}
	return cmd.show(fs.Arg(0))
}

type command struct {
	engine *engine.Engine
	out    io.Writer
	club   string
}

func (c *command) exec(ctx context.Context, name string, args []string) error {
	e := c.engine
	switch name {
	case "races", "applications":
		return nil
	case "create-race":
		if len(args) != 2 {
			return fmt.Errorf("%w: create-race <name> <distance>", errUsage)
		}
		d, err := model.ParseDistance(args[1])
		if err != nil {
			return failure.Validation(engine.OpCreateRace, err)
		}
		p, err := e.CreateRace(model.RaceDraft{Name: args[0], Distance: d})
		if err != nil {
			return err
		}
		return settled(ctx, p)
	case "rename-race":
		if len(args) != 2 {
			return fmt.Errorf("%w: rename-race <id> <name>", errUsage)
		}
		p, err := e.UpdateRace(args[0], model.RacePatch{Name: &args[1]})
		if err != nil {
			return err
		}
		return settled(ctx, p)
	case "delete-race":
		if len(args) != 1 {
			return fmt.Errorf("%w: delete-race <id>", errUsage)
		}
		p, err := e.DeleteRace(args[0])
		if err != nil {
			return err
		}
		return settled(ctx, p)
	case "apply":
		if len(args) != 3 {
			return fmt.Errorf("%w: apply <race-id> <first-name> <last-name>", errUsage)
		}
		form := model.RegistrationForm{RaceID: args[0], FirstName: args[1], LastName: args[2]}
		if c.club != "" {
			form.Club = &c.club
		}
		p, err := e.Register(form)
		if err != nil {
			return err
		}
		return settled(ctx, p)
	case "withdraw":
		if len(args) != 1 {
			return fmt.Errorf("%w: withdraw <application-id>", errUsage)
		}
		p, err := e.DeleteApplication(args[0])
		if err != nil {
			return err
		}
		return settled(ctx, p)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, name)
}

func settled[T any](ctx context.Context, p *engine.Pending[T]) error {
	_, err := p.Wait(ctx)
	return err
}

func (c *command) show(name string) error {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	switch name {
	case "applications", "apply", "withdraw":
		fmt.Fprintln(tw, "ID\tRACE\tFIRST NAME\tLAST NAME\tCLUB")
		for _, a := range c.engine.Applications() {
			club := ""
			if a.Club != nil {
				club = *a.Club
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, c.engine.RaceName(a.RaceID), a.FirstName, a.LastName, club)
		}
	default:
		fmt.Fprintln(tw, "ID\tNAME\tDISTANCE")
		for _, r := range c.engine.Races() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Name, r.Distance)
		}
	}
	return tw.Flush()
}

// report prints a classified failure the way a user should see it.
func report(w io.Writer, err error) {
	fe, ok := failure.As(err)
	if !ok {
		fmt.Fprintln(w, "error:", err)
		return
	}
	prefix := "error"
	if fe.Tone == failure.ToneWarning {
		prefix = "warning"
	}
	fmt.Fprintf(w, "%s: %s\n", prefix, fe.Message)
}

func serveMetrics(ctx context.Context, addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		log.Info(ctx, "serving metrics", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server failed", logger.Error(err))
		}
	}()
	return srv
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprint(out, strings.TrimLeft(`
Usage: racesync [flags] <command> [args]

Commands:
  races                                      list races
  applications                               list applications
  create-race <name> <distance>              add a race (Administrator)
  rename-race <id> <name>                    rename a race (Administrator)
  delete-race <id>                           delete a race (Administrator)
  apply <race-id> <first-name> <last-name>   register for a race
  withdraw <application-id>                  withdraw an application

Distances: 5k, 10k, HalfMarathon, Marathon

Flags:
`, "\n"))
	fs.PrintDefaults()
}
