package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/OperatorNext/OperatorNext/config"
	"github.com/OperatorNext/OperatorNext/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 处理 migrate 子命令: migrate <up|down|status|version|info|force N> [--config path] [--db-type t]
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}

	command := args[0]
	if !slices.Contains(migration.Commands, command) {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", command)
		printMigrateUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate "+command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.Parse(args[1:])

	migrator, err := createMigrator(*configPath, *dbType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	err = migration.NewCLI(migrator).Run(context.Background(), command, fs.Args())
	if closeErr := migrator.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to close migrator: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

// createMigrator 从配置创建迁移器，dbType 非空时覆盖配置中的驱动
func createMigrator(configPath, dbType string) (*migration.DefaultMigrator, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg.Database)
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  operatornext migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  status      Show migration status
  version     Show current migration version
  info        Show migration summary
  force <v>   Force set migration version (use with caution)

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)

Examples:
  operatornext migrate up
  operatornext migrate status --config /etc/operatornext/config.yaml
  operatornext migrate force 1`)
}
