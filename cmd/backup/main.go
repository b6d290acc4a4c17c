package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"familyledger/internal/config"
	"familyledger/internal/database"
	"familyledger/internal/service"
)

func main() {
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	pruneCmd := flag.NewFlagSet("prune", flag.ExitOnError)
	settingsCmd := flag.NewFlagSet("settings", flag.ExitOnError)

	exportOutput := exportCmd.String("output", "", "Output file path (default: backup_YYYYMMDD_HHMMSS.json)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	// Run migrations to ensure schema is up to date
	if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	backupService := service.NewBackupService(db)

	switch os.Args[1] {
	case "export":
		exportCmd.Parse(os.Args[2:])
		handleExport(ctx, backupService, *exportOutput)

	case "prune":
		pruneCmd.Parse(os.Args[2:])
		if _, err := backupService.Prune(ctx, time.Now()); err != nil {
			log.Fatalf("Prune failed: %v", err)
		}

	case "settings":
		settingsCmd.Parse(os.Args[2:])
		handleSettings(ctx, backupService, settingsCmd.Args())

	default:
		printUsage()
		os.Exit(1)
	}
}

func handleExport(ctx context.Context, backupService *service.BackupService, outputPath string) {
	if outputPath == "" {
		timestamp := time.Now().Format("20060102_150405")
		outputPath = fmt.Sprintf("backup_%s.json", timestamp)
	}

	dir := filepath.Dir(outputPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	log.Printf("Exporting database to: %s", outputPath)
	if err := backupService.Export(ctx, outputPath); err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	fileInfo, err := os.Stat(outputPath)
	if err != nil {
		log.Fatalf("Failed to stat export: %v", err)
	}
	log.Printf("Export complete! File size: %.2f MB", float64(fileInfo.Size())/1024/1024)
}

func handleSettings(ctx context.Context, backupService *service.BackupService, args []string) {
	if len(args) == 0 {
		log.Printf("invite-only: %t", backupService.InviteOnlyMode(ctx))
		return
	}
	if len(args) != 2 || args[0] != "invite-only" {
		printUsage()
		os.Exit(1)
	}

	var enabled bool
	switch args[1] {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		fmt.Println("Error: invite-only takes 'on' or 'off'")
		os.Exit(1)
	}

	if err := backupService.SetInviteOnlyMode(ctx, enabled); err != nil {
		log.Fatalf("Failed to update setting: %v", err)
	}
	log.Printf("invite-only set to %t", enabled)
}

func printUsage() {
	fmt.Println("Family Ledger Maintenance Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  backup export [options]              Export identity data to a JSON file")
	fmt.Println("  backup prune                         Remove expired revocations and token digests")
	fmt.Println("  backup settings                      Show settings")
	fmt.Println("  backup settings invite-only on|off   Require an invite code to register")
	fmt.Println()
	fmt.Println("Export Options:")
	fmt.Println("  -output <file>    Output file path (default: backup_YYYYMMDD_HHMMSS.json)")
	fmt.Println()
	fmt.Println("The export contains no password hashes or token digests.")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DB_TYPE          Database type: sqlite, postgres, or mysql (default: sqlite)")
	fmt.Println("  DB_PATH          SQLite database path (default: ./familyledger.db)")
	fmt.Println("  DATABASE_URL     PostgreSQL or MySQL connection URL")
}
