package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/config"
	"github.com/Likheet/hermes-monitoring-sub001/internal/coordinator"
	"github.com/Likheet/hermes-monitoring-sub001/internal/db"
	"github.com/Likheet/hermes-monitoring-sub001/internal/shift"
	"github.com/Likheet/hermes-monitoring-sub001/internal/web"
)

func main() {
	configPathFlag := flag.String("config", "", "config file path")
	dbPathFlag := flag.String("db", "", "sqlite db path")
	portFlag := flag.Int("port", 0, "http port")
	flag.Parse()

	cfgPath, err := resolveConfigPath(*configPathFlag)
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *dbPathFlag != "" {
		cfg.DBPath = *dbPathFlag
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "hermes.db")
	}
	if *portFlag != 0 {
		cfg.HTTPPort = *portFlag
	}
	if cfg.ShiftSweepMinutes <= 0 {
		cfg.ShiftSweepMinutes = 1
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}

	clk := clock.System()
	shifts := shift.NewScheduleService(store)
	coord := coordinator.New(store, shifts, clk)

	monitor := shift.NewMonitor(shifts, store, coord, time.Duration(cfg.ShiftSweepMinutes)*time.Minute)
	go monitor.Run(context.Background())

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	handler := web.NewServer(store, coord, shifts, clk).Handler()
	log.Printf("hermesd listening on %s (db %s)", addr, cfg.DBPath)
	log.Fatal(http.ListenAndServe(addr, handler))
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "server.json"), nil
}

func openStore(dbPath string) (*db.Store, error) {
	if err := config.EnsureDir(dbPath); err != nil {
		return nil, err
	}
	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return db.NewStore(sqlDB, nil), nil
}
