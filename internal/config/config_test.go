package config

import (
	"testing"
	"time"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://localhost/slotwatch")
	t.Setenv("MASTER_KEY", "k")
	t.Setenv("WORKER_TOKEN", "tok")

	c, err := LoadAPI()
	if err != nil {
		t.Fatalf("LoadAPI: %v", err)
	}
	if c.DB.Driver != "pgx" || c.DB.DSN != "postgres://localhost/slotwatch" {
		t.Fatalf("db = %+v", c.DB)
	}
	if c.LeaseDuration != 5*time.Minute || c.ClaimWait != 0 || c.Addr != ":8080" || c.LockKey != 42 {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestLoadAPIRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_DSN", "x")
	t.Setenv("MASTER_KEY", "")
	t.Setenv("WORKER_TOKEN", "")
	if _, err := LoadAPI(); err == nil {
		t.Fatal("expected error for missing MASTER_KEY/WORKER_TOKEN")
	}
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("API_URL", "http://api:8080")
	t.Setenv("WORKER_TOKEN", "tok")
	t.Setenv("POLL_INTERVAL", "2s")

	c, err := LoadWorker()
	if err != nil {
		t.Fatalf("LoadWorker: %v", err)
	}
	if c.PollInterval != 2*time.Second || c.MaxBackoff != time.Minute || c.ProbeTimeout != 5*time.Second {
		t.Fatalf("worker = %+v", c)
	}
}

func TestLoadScheduler(t *testing.T) {
	t.Setenv("DATABASE_DSN", "x")
	t.Setenv("MASTER_KEY", "k")
	c, err := LoadScheduler()
	if err != nil {
		t.Fatalf("LoadScheduler: %v", err)
	}
	if c.ScanSchedule != "@every 30m" || c.LockKey != 42 {
		t.Fatalf("scheduler = %+v", c)
	}
}
