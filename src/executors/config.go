package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WorkerCount        int           `envconfig:"EXECUTOR_WORKER_COUNT" default:"4"`
	QueueSize          int           `envconfig:"EXECUTOR_QUEUE_SIZE" default:"256"`
	MaxAttempts        int           `envconfig:"EXECUTOR_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay     time.Duration `envconfig:"EXECUTOR_RETRY_BASE_DELAY" default:"2s"`
	FillPollPeriod     time.Duration `envconfig:"EXECUTOR_FILL_POLL_PERIOD" default:"10s"`
	StopLossPollPeriod time.Duration `envconfig:"EXECUTOR_STOP_LOSS_POLL_PERIOD" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
