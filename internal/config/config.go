package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Database struct {
	Driver string `env:"DB_DRIVER" envDefault:"pgx"`
	DSN    string `env:"DATABASE_DSN,notEmpty"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
}

// API configures the producer process: HTTP transport, ledger, vault and the
// optional in-process scan schedule.
type API struct {
	AppEnv        string        `env:"APP_ENV" envDefault:"production"`
	Addr          string        `env:"API_ADDR" envDefault:":8080"`
	MasterKey     string        `env:"MASTER_KEY,notEmpty"`
	WorkerToken   string        `env:"WORKER_TOKEN,notEmpty"`
	LeaseDuration time.Duration `env:"LEASE_DURATION" envDefault:"5m"`
	ClaimWait     time.Duration `env:"CLAIM_WAIT" envDefault:"0s"`
	ScanSchedule  string        `env:"SCAN_SCHEDULE"`
	LockKey       int64         `env:"LEADER_LOCK_KEY" envDefault:"42"`
	DB            Database
	Redis         Redis
}

// Scheduler configures the standalone cron producer.
type Scheduler struct {
	AppEnv       string `env:"APP_ENV" envDefault:"production"`
	MasterKey    string `env:"MASTER_KEY,notEmpty"`
	ScanSchedule string `env:"SCAN_SCHEDULE" envDefault:"@every 30m"`
	LockKey      int64  `env:"LEADER_LOCK_KEY" envDefault:"42"`
	DB           Database
	Redis        Redis
}

// Worker configures a poll loop. It never touches the database.
type Worker struct {
	AppEnv            string        `env:"APP_ENV" envDefault:"production"`
	APIURL            string        `env:"API_URL,notEmpty"`
	Token             string        `env:"WORKER_TOKEN,notEmpty"`
	ID                string        `env:"WORKER_ID"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	MaxBackoff        time.Duration `env:"MAX_BACKOFF" envDefault:"60s"`
	ProbeTimeout      time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
	ProfilePath       string        `env:"PROFILE_PATH"`
	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"1"`
}

func LoadAPI() (API, error) {
	var c API
	err := env.Parse(&c)
	return c, err
}

func LoadScheduler() (Scheduler, error) {
	var c Scheduler
	err := env.Parse(&c)
	return c, err
}

func LoadWorker() (Worker, error) {
	var c Worker
	err := env.Parse(&c)
	return c, err
}
