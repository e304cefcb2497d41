package main

import (
	"log"
	"os"

	"github.com/tburke/arbiter/internal/api"
	"github.com/tburke/arbiter/internal/config"
	"github.com/tburke/arbiter/internal/engine"
	"github.com/tburke/arbiter/internal/operator"
	"github.com/tburke/arbiter/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("arbiter: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"participation_bps", cfg.ParticipationBps,
		"content_bps", cfg.ContentBps,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var dir operator.Directory
	var auth operator.Authenticator
	if cfg.RegistryURL != "" {
		reg := operator.NewHTTPRegistry(cfg.RegistryURL, cfg.RegistryTimeout)
		dir, auth = reg, reg
		logger.Info("using external operator registry", "url", cfg.RegistryURL)
	} else {
		reg, err := operator.LoadStaticRegistry(cfg.OperatorsFile)
		if err != nil {
			log.Fatalf("failed to load operators file: %v", err)
		}
		dir, auth = reg, reg
		logger.Info("using static operator registry", "file", cfg.OperatorsFile)
	}

	eng := engine.NewEngine(db, dir, auth, engine.Config{
		ParticipationBps: cfg.ParticipationBps,
		ContentBps:       cfg.ContentBps,
	}, logger)

	if cfg.SweepInterval > 0 {
		sweeper := engine.NewSweeper(eng, db, cfg.SweepInterval, logger)
		sweeper.Start()
		defer sweeper.Stop()
	}

	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
