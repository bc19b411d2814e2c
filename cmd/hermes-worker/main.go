package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Likheet/hermes-monitoring-sub001/internal/api"
	"github.com/Likheet/hermes-monitoring-sub001/internal/config"
	"github.com/Likheet/hermes-monitoring-sub001/internal/offline"
	"github.com/Likheet/hermes-monitoring-sub001/internal/tui"
)

func main() {
	configPathFlag := flag.String("config", "", "config file path")
	serverFlag := flag.String("server", "", "server base URL")
	workerFlag := flag.String("worker", "", "worker id")
	queueFlag := flag.String("queue", "", "local action queue path")
	flag.Parse()

	cfgPath, err := resolveConfigPath(*configPathFlag)
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.LoadWorker(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *workerFlag != "" {
		cfg.WorkerID = *workerFlag
	}
	if *queueFlag != "" {
		cfg.QueuePath = *queueFlag
	}
	if cfg.WorkerID == "" {
		log.Fatal("worker id required (flag -worker or HERMES_WORKER_ID)")
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if cfg.QueuePath == "" {
		cfg.QueuePath = filepath.Join(filepath.Dir(cfgPath), "queue.db")
	}
	if err := config.SaveWorker(cfgPath, cfg); err != nil {
		log.Fatal(err)
	}

	if err := config.EnsureDir(cfg.QueuePath); err != nil {
		log.Fatal(err)
	}
	storage, err := offline.OpenStorage(cfg.QueuePath, cfg.DeviceID)
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()

	client := api.NewClient(cfg.ServerURL)
	ui := tui.New(client, nil, storage, cfg.WorkerID)
	queue := offline.NewQueue(storage, client, ui.ConflictNotifier())
	ui.SetQueue(queue)

	if err := ui.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "worker.json"), nil
}
