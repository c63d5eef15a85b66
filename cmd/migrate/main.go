package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/db"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory on disk (default: the embedded set)")
	flag.StringVar(&opts.name, "name", "", "migration name, for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS, for -cmd=version")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	switch opts.cmd {
	case "create":
		return create(opts)
	case "validate":
		var fsys fs.FS = migrate.Embedded()
		if opts.dir != "" {
			fsys = os.DirFS(opts.dir)
		}
		if err := migrate.Validate(fsys); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	case "up", "down", "status", "version":
		return withDatabase(opts, func(ctx context.Context, conn *sql.DB) error {
			if opts.cmd != "version" {
				return migrate.Run(ctx, conn, opts.dir, opts.cmd)
			}
			if opts.version == "" {
				return errors.New("-version is required")
			}
			return migrate.MigrateToVersion(ctx, conn, opts.dir, opts.version)
		})
	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}
}

// create and validate work on files only, so they need neither config nor a
// database.
func create(opts options) error {
	if opts.name == "" {
		return errors.New("-name is required")
	}
	dir := opts.dir
	if dir == "" {
		dir = migrate.DefaultDir
	}
	path, err := migrate.CreateSQLMigration(dir, opts.name, time.Now())
	if err != nil {
		return err
	}
	fmt.Println("created", path)
	return nil
}

func withDatabase(opts options, fn func(context.Context, *sql.DB) error) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
	})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	conn, err := client.SQL()
	if err != nil {
		return err
	}
	return fn(ctx, conn)
}
