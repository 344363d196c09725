// cli is the developer tool: schema bootstrap, destructive reset and a few
// shortcuts for local runs.
//
//	cli migrate [--env=.env]
//	cli reset --force [--env=.env]
//	cli code --phone=+79001234567 --code=12345
//	cli admin --user=42
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/number-market/internal/app"
	"github.com/nimasrn/number-market/internal/config"
	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/queue"
	"github.com/nimasrn/number-market/internal/repository"
	"github.com/nimasrn/number-market/migrations"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/nimasrn/number-market/pkg/pg"
	"github.com/spf13/pflag"
)

const usage = `usage: cli <command> [flags]

commands:
  migrate   apply additive schema migrations
  reset     drop and rebuild the schema (APP_ENV=dev and --force only)
  code      push a verification code into the code intake stream
  admin     grant the administrator flag to a user
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return migrate(ctx, rest)
	case "reset":
		return reset(ctx, rest)
	case "code":
		return pushCode(ctx, rest)
	case "admin":
		return grantAdmin(ctx, rest)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	envPath := fs.String("env", "", "optional env file")
	return fs, envPath
}

func openStore(envPath string) (*config.Config, *pg.DB, error) {
	cfg, err := config.Load(envPath)
	if err != nil {
		return nil, nil, err
	}
	logger.SetDebug(cfg.Debug)
	db, err := pg.Open(cfg.DatabaseURL, "", cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed connecting to database: %w", err)
	}
	return cfg, db, nil
}

func migrate(ctx context.Context, args []string) error {
	fs, envPath := newFlagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, db, err := openStore(*envPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS, migrations.Dir, repository.Entities()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("schema is up to date", "dialect", db.Dialect())
	return nil
}

func reset(ctx context.Context, args []string) error {
	fs, envPath := newFlagSet("reset")
	force := fs.Bool("force", false, "confirm the destructive reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		return fmt.Errorf("reset drops every table; pass --force to continue")
	}
	cfg, db, err := openStore(*envPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Reset(ctx, cfg.IsDev(), migrations.FS, migrations.Dir, repository.Entities()...); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	logger.Warn("database reset", "dialect", db.Dialect())
	return nil
}

func pushCode(ctx context.Context, args []string) error {
	fs, envPath := newFlagSet("code")
	phone := fs.String("phone", "", "account phone the code arrived on")
	code := fs.String("code", "", "verification code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *phone == "" || *code == "" {
		return fmt.Errorf("--phone and --code are required")
	}
	cfg, err := config.Load(*envPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := queue.PublishCode(ctx, a.Codes, model.IncomingCode{
		Phone:      *phone,
		Code:       *code,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	logger.Info("code queued", "entry_id", id, "stream", a.Codes.Name())
	return nil
}

func grantAdmin(ctx context.Context, args []string) error {
	fs, envPath := newFlagSet("admin")
	userID := fs.Int64("user", 0, "user id to promote")
	revoke := fs.Bool("revoke", false, "clear the flag instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 {
		return fmt.Errorf("--user is required")
	}
	cfg, err := config.Load(*envPath)
	if err != nil {
		return err
	}
	admins := cfg.AdminIDs()
	if len(admins) == 0 {
		return fmt.Errorf("ADMIN_IDS is empty; no actor to act as")
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Users.SetAdmin(ctx, admins[0], *userID, !*revoke)
}
