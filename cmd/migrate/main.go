// Command migrate manages the ledger schema with goose.
//
//	migrate [-dir path] up|down|status|validate|list
//	migrate [-dir path] to <version>
//	migrate [-dir path] create <name>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/migrate"
)

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [-dir path] up|down|status|validate|list|to <version>|create <name>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), flag.Args()[1:], *dir); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, dir string) error {
	// offline commands only read or write the migrations directory
	switch cmd {
	case "create":
		if len(args) != 1 {
			return errors.New("create takes exactly one name")
		}
		path, err := migrate.CreateSQLMigration(dir, args[0])
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	case "list":
		migrations, err := migrate.List(dir)
		if err != nil {
			return err
		}
		for _, m := range migrations {
			fmt.Printf("%d\t%s\n", m.Version, m.Name)
		}
		return nil
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": cmd, "dir": dir})

	client, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}

	switch cmd {
	case "up", "down", "status":
		err = migrate.Run(ctx, sqlDB, dir, cmd)
	case "to":
		if len(args) != 1 {
			return errors.New("to takes exactly one version")
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, dir, args[0])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	logg.Info(ctx, "migration command finished")
	return nil
}
