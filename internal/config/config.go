package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Server is the daemon's configuration. Values load from a JSON file and
// may then be overridden by HERMES_* environment variables (a .env file
// in the working directory is honored).
type Server struct {
	DBPath            string `json:"db_path"`
	HTTPPort          int    `json:"http_port"`
	ShiftSweepMinutes int    `json:"shift_sweep_minutes"`
}

// Worker configures the worker console.
type Worker struct {
	ServerURL string `json:"server_url"`
	WorkerID  string `json:"worker_id"`
	DeviceID  string `json:"device_id"`
	QueuePath string `json:"queue_path"`
}

func DefaultServer() Server {
	return Server{HTTPPort: 8080, ShiftSweepMinutes: 1}
}

func DefaultWorker() Worker {
	return Worker{ServerURL: "http://localhost:8080"}
}

func DefaultConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "hermes"), nil
}

func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := loadFile(path, &cfg); err != nil {
		return Server{}, err
	}

	_ = godotenv.Load()
	if v := os.Getenv("HERMES_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HERMES_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Server{}, fmt.Errorf("parse HERMES_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}
	if v := os.Getenv("HERMES_SHIFT_SWEEP_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return Server{}, fmt.Errorf("parse HERMES_SHIFT_SWEEP_MINUTES: %w", err)
		}
		cfg.ShiftSweepMinutes = minutes
	}
	return cfg, nil
}

func LoadWorker(path string) (Worker, error) {
	cfg := DefaultWorker()
	if err := loadFile(path, &cfg); err != nil {
		return Worker{}, err
	}

	_ = godotenv.Load()
	if v := os.Getenv("HERMES_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("HERMES_WORKER_ID"); v != "" {
		cfg.WorkerID = v
	}
	if v := os.Getenv("HERMES_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("HERMES_QUEUE_PATH"); v != "" {
		cfg.QueuePath = v
	}
	return cfg, nil
}

func SaveServer(path string, cfg Server) error {
	return saveFile(path, cfg)
}

func SaveWorker(path string, cfg Worker) error {
	return saveFile(path, cfg)
}

func loadFile(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func saveFile(path string, cfg any) error {
	if err := EnsureDir(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
