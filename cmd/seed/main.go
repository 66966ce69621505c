// Command seed loads providers, credentials and model rates from a YAML file.
// Credentials are encrypted with CREDENTIAL_SECRET before they are stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"aigateway/internal/config"
	"aigateway/internal/storage"
)

func main() {
	path := flag.String("file", "seed.yaml", "seed file to load")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	seed, err := LoadSeedFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	enc, err := storage.NewEncryption(cfg.CredentialSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to set up encryption: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to migrate: %v\n", err)
		os.Exit(1)
	}

	res, err := Apply(ctx, storage.NewStore(db), enc, seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %d provider(s), %d credential(s), %d rate(s); skipped %d existing provider(s)\n",
		res.Providers, res.Credentials, res.Rates, res.Skipped)
}
