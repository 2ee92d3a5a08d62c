package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/petitions-gov-je/signatures-backend/api"
	"github.com/petitions-gov-je/signatures-backend/constituency"
	"github.com/petitions-gov-je/signatures-backend/db"
	"github.com/petitions-gov-je/signatures-backend/email"
	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/ratelimit"
	"github.com/petitions-gov-je/signatures-backend/session"
	"github.com/petitions-gov-je/signatures-backend/signing"
	"github.com/petitions-gov-je/signatures-backend/stats"
	"github.com/petitions-gov-je/signatures-backend/sweeper"
	"github.com/petitions-gov-je/signatures-backend/util"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	inMemory      bool
	statsInterval time.Duration
	pruneInterval time.Duration
)

func setup() {
	godotenv.Load()
	raven.SetDSN(os.Getenv("SENTRY_DSN"))
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
}

func loadDatabase() (db.Database, error) {
	if inMemory {
		log.Warn("Using in-memory database, nothing will be persisted")
		return db.InitMemDatabase(), nil
	}
	cfg, err := db.LoadEnvironmentVariables()
	if err != nil {
		return nil, err
	}
	return db.InitSQLDatabase(cfg)
}

// rateLimitStore picks where rate limit events are counted.
func rateLimitStore(ctx context.Context, cfg ratelimit.Config, database db.Database) (ratelimit.Store, error) {
	switch cfg.Store {
	case "redis":
		client, err := ratelimit.NewRedisClientFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewRedisStore(client), nil
	case "memory":
		return ratelimit.NewMemoryStore(), nil
	}
	return database, nil
}

// Serves all public endpoints.
func serve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := loadDatabase()
	if err != nil {
		return fmt.Errorf("couldn't connect to database: %v", err)
	}
	limiterCfg, err := ratelimit.LoadConfig()
	if err != nil {
		return err
	}
	events, err := rateLimitStore(ctx, limiterCfg, database)
	if err != nil {
		return fmt.Errorf("couldn't set up rate limit store: %v", err)
	}
	emailConfig, err := email.MakeConfigFromEnv(database)
	if err != nil {
		return err
	}
	constituencies, err := constituency.NewFromEnv()
	if err != nil {
		return err
	}
	sessions, err := session.NewStoreFromEnv()
	if err != nil {
		return err
	}
	signingCfg, err := signing.LoadConfig()
	if err != nil {
		return err
	}
	dbCfg, err := db.LoadEnvironmentVariables()
	if err != nil {
		return err
	}
	portString, err := util.ValidPort(dbCfg.Port)
	if err != nil {
		return err
	}

	a := api.API{
		Workflow: &signing.Workflow{
			Store:          database,
			Mailer:         emailConfig,
			Constituencies: constituencies,
			Limiter:        ratelimit.New(database, events, limiterCfg),
			Tokens:         models.RandomTokens{},
			Config:         signingCfg,
		},
		Sessions:  sessions,
		Blacklist: database,
		Stats:     database,
	}
	go stats.UpdateRegularly(ctx, database, statsInterval)
	go sweeper.PruneRegularly(ctx, events, database, pruneInterval)

	log.WithField("port", portString).Info("Listening")
	return http.ListenAndServe(portString, a.RegisterHandlers(mux.NewRouter()))
}

func setupDB(cmd *cobra.Command, args []string) error {
	cfg, err := db.LoadEnvironmentVariables()
	if err != nil {
		return err
	}
	database, err := db.InitSQLDatabase(cfg)
	if err != nil {
		return fmt.Errorf("couldn't connect to database: %v", err)
	}
	if err := database.CreateTables(); err != nil {
		return err
	}
	log.WithField("database", cfg.DbName).Info("Created tables")
	return nil
}

func prune(cmd *cobra.Command, args []string) error {
	database, err := loadDatabase()
	if err != nil {
		return err
	}
	return sweeper.PruneRateLimitEvents(database, database)(context.Background())
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "signatures-backend",
		Short: "Petition signing and anti-fraud service",
		RunE:  serve,
	}
	root.PersistentFlags().BoolVar(&inMemory, "memory", false, "keep everything in memory (development only)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the signing API",
		RunE:  serve,
	}
	for _, cmd := range []*cobra.Command{root, serveCmd} {
		cmd.Flags().DurationVar(&statsInterval, "stats-interval", time.Minute, "how often to refresh signature totals")
		cmd.Flags().DurationVar(&pruneInterval, "prune-interval", time.Hour, "how often to prune rate limit events")
	}
	root.AddCommand(serveCmd)
	root.AddCommand(&cobra.Command{
		Use:   "setup-db",
		Short: "Create database tables",
		RunE:  setupDB,
	})
	root.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired rate limit events once",
		RunE:  prune,
	})
	return root
}

func main() {
	setup()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
