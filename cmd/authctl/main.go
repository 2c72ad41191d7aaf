package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/database"
	"github.com/carenest/authcore/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "authctl",
	Short:         "Administration tool for the authcore service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env holds what a command needs; fields are filled on demand
type env struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB
	rdb *database.Redis
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &env{
		cfg: cfg,
		log: logger.New(cfg.Log.Level, "text"),
	}, nil
}

func (e *env) openDB() error {
	db, err := database.Open(e.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	e.db = db
	return nil
}

func (e *env) openRedis() error {
	rdb, err := database.NewRedis(e.cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	e.rdb = rdb
	return nil
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	if e.rdb != nil {
		e.rdb.Close()
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
