// Command gradectl runs grading jobs and checks against the grading database.
//
//	gradectl recalc-section  --section s1
//	gradectl recalc-enrollment --section s1 --enrollment e1
//	gradectl recalc-all
//	gradectl check-weights
//	gradectl export --section s1
//	gradectl publish
//	gradectl issue-token --sub registrar --role admin --ttl 1h
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	auth "github.com/mind-engage/mindengage-grading/internal/auth/middleware"
	"github.com/mind-engage/mindengage-grading/internal/config"
	"github.com/mind-engage/mindengage-grading/internal/db"
	"github.com/mind-engage/mindengage-grading/internal/logging"
	"github.com/mind-engage/mindengage-grading/internal/storage"
	syncx "github.com/mind-engage/mindengage-grading/internal/sync"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook/sqlstore"
)

const usage = `usage: gradectl <command> [flags]

commands:
  recalc-section     recompute every enrollment of one section
  recalc-enrollment  recompute one enrollment
  recalc-all         recompute every section (bulk migration)
  check-weights      list sections whose weights do not sum to 100
  export             write a section's grades workbook to the blob store
  publish            send pending final grades to sync.webhook_url once
  issue-token        mint a bearer token for the HTTP API
  schema-version     print the applied migration version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gradectl:", err)
	}
	os.Exit(code)
}

// run returns the process exit code: 0 ok, 1 failure or findings, 2 usage.
func run(ctx context.Context, args []string, out io.Writer) (int, error) {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return 2, nil
	}
	cmd, args := args[0], args[1:]

	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to config file")
	section := fs.String("section", "", "section id")
	enrollment := fs.String("enrollment", "", "enrollment id")
	sub := fs.String("sub", "", "token subject")
	role := fs.String("role", "admin", "token role (admin|teacher|service)")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return 1, err
	}

	if cmd == "issue-token" {
		tok, err := auth.NewAuthService(cfg.Auth.HMACSecret).IssueJWT(*sub, *role, *ttl)
		if err != nil {
			return 1, err
		}
		fmt.Fprintln(out, tok)
		return 0, nil
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return 1, err
	}
	defer func() { _ = log.Sync() }()

	driver, err := db.ParseDriver(cfg.DB.Driver)
	if err != nil {
		return 1, err
	}
	dbh, err := db.Open(ctx, driver, cfg.DB.DSN)
	if err != nil {
		return 1, err
	}
	defer dbh.Close()

	if cmd == "schema-version" {
		v, dirty, err := db.SchemaVersion(dbh, driver)
		if err != nil {
			return 1, err
		}
		fmt.Fprintf(out, "version=%d dirty=%t\n", v, dirty)
		return 0, nil
	}

	store := sqlstore.New(dbh, cfg.SiteID)
	a := &app{
		store: store,
		recalc: gradebook.New(store, time.Now,
			gradebook.WithConcurrency(cfg.Grading.MaxConcurrency),
			gradebook.WithObserver(logging.NewReportObserver(log)),
		),
		out: out,
		now: time.Now,
	}

	need := func(name, v string) error {
		if v == "" {
			return fmt.Errorf("%s: --%s is required", cmd, name)
		}
		return nil
	}

	switch cmd {
	case "recalc-section":
		if err := need("section", *section); err != nil {
			return 2, err
		}
		return a.recalcSection(ctx, *section)
	case "recalc-enrollment":
		if err := need("section", *section); err != nil {
			return 2, err
		}
		if err := need("enrollment", *enrollment); err != nil {
			return 2, err
		}
		return a.recalcEnrollment(ctx, *section, *enrollment)
	case "recalc-all":
		return a.recalcAll(ctx)
	case "check-weights":
		return a.checkWeights(ctx)
	case "export":
		if err := need("section", *section); err != nil {
			return 2, err
		}
		blobs, err := storage.NewFSStore(cfg.Blob.BasePath)
		if err != nil {
			return 1, err
		}
		return a.export(ctx, blobs, *section)
	case "publish":
		if !cfg.SyncEnabled() {
			return 2, fmt.Errorf("publish: sync.webhook_url is not configured")
		}
		pub := syncx.NewPublisher(store.Events, syncx.NewHTTPPoster(syncx.PosterConfig{
			URL:          cfg.Sync.WebhookURL,
			Token:        cfg.Sync.Token,
			TokenURL:     cfg.Sync.TokenURL,
			ClientID:     cfg.Sync.ClientID,
			ClientSecret: cfg.Sync.ClientSecret,
			Timeout:      cfg.Sync.Timeout,
		}), log)
		return a.publish(ctx, pub)
	default:
		fmt.Fprint(out, usage)
		log.Debug("unknown command", zap.String("cmd", cmd))
		return 2, fmt.Errorf("unknown command %q", cmd)
	}
}
