package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/db"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

// gooseCommands pass straight through to goose against the configured DB.
var gooseCommands = map[string]bool{
	"up":        true,
	"up-by-one": true,
	"down":      true,
	"redo":      true,
	"reset":     true,
	"status":    true,
	"version":   true,
}

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name, for -cmd=create")
	target := flag.String("to", "", "target version (YYYYMMDDHHMMSS), for -cmd=to")
	cmd := flag.String("cmd", "up", "up|up-by-one|down|redo|reset|status|version|to|create|validate")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	// create and validate only touch the filesystem.
	switch *cmd {
	case "create":
		path, err := migrate.CreateSQLMigration(*dir, *name)
		exitOn(err, "create migration")
		fmt.Println("created", path)
		return
	case "validate":
		exitOn(migrate.ValidateDir(*dir), "validate migrations")
		fmt.Println("migrations ok:", *dir)
		return
	}
	if *cmd != "to" && !gooseCommands[*cmd] {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q\n", *cmd)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	exitOn(migrate.ValidateDir(*dir), "validate migrations")

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err, "connect database")
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	exitOn(err, "sql handle")

	logg.Info(ctx, "running migrations")
	if *cmd == "to" {
		err = migrate.MigrateToVersion(ctx, sqlDB, *dir, *target)
	} else {
		err = migrate.Run(ctx, sqlDB, *dir, *cmd)
	}
	if err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrations finished")
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
