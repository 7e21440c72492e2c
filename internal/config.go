package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/haatos/readycheck/internal/stage"
	"github.com/haatos/readycheck/internal/util"
)

var Config *Configuration

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) MarshalJSON() ([]byte, error) {
	hours := float64(time.Duration(hd)) / float64(time.Hour)
	return json.Marshal(hours)
}

func (hd *HoursDuration) UnmarshalJSON(data []byte) error {
	var hours float64
	if err := json.Unmarshal(data, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(sd).Seconds())
}

func (sd *SecondsDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

type Configuration struct {
	QueueSize              int64           `json:"queue_size"`
	StageTimeout           SecondsDuration `json:"stage_timeout_seconds"`
	OutboxDispatchInterval SecondsDuration `json:"outbox_dispatch_interval_seconds"`
	OutboxMaxAttempts      int             `json:"outbox_max_attempts"`
	OutboxRetention        HoursDuration   `json:"outbox_retention_hours"`
	RunsPerDayLimit        int             `json:"runs_per_day_limit"`
	BlockingSeverity       stage.Severity  `json:"blocking_severity"`
	LogFormat              string          `json:"log_format"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		QueueSize:              16,
		StageTimeout:           NewSecondsDuration(120),
		OutboxDispatchInterval: NewSecondsDuration(15),
		OutboxMaxAttempts:      5,
		OutboxRetention:        NewHoursDuration(7 * 24),
		RunsPerDayLimit:        0,
		BlockingSeverity:       stage.SeverityHigh,
		LogFormat:              "json",
	}
}

func (c *Configuration) Validate() error {
	var errs []error
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("queue_size must be at least 1"))
	}
	if c.StageTimeout < 0 {
		errs = append(errs, errors.New("stage_timeout_seconds must not be negative"))
	}
	if c.OutboxDispatchInterval <= 0 {
		errs = append(errs, errors.New("outbox_dispatch_interval_seconds must be positive"))
	}
	if c.OutboxMaxAttempts < 1 {
		errs = append(errs, errors.New("outbox_max_attempts must be at least 1"))
	}
	if c.RunsPerDayLimit < 0 {
		errs = append(errs, errors.New("runs_per_day_limit must not be negative"))
	}
	if !c.BlockingSeverity.Valid() {
		errs = append(errs, fmt.Errorf("unknown blocking_severity %q", c.BlockingSeverity))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// InitializeConfiguration reads path into Config, writing the defaults to
// path first when it does not exist. Keys missing from the file keep their
// default values.
func InitializeConfiguration(path string) error {
	config := DefaultConfiguration()

	configFileExists, err := util.PathExists(path)
	if err != nil {
		return err
	}
	if !configFileExists {
		if err := writeConfiguration(path, config); err != nil {
			return err
		}
	} else {
		configBytes, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(configBytes, config); err != nil {
			return fmt.Errorf("err parsing %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return err
	}
	Config = config
	return nil
}

// UpdateConfiguration validates and stores config. Running services keep the
// values they were built with until restart.
func UpdateConfiguration(path string, config *Configuration) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := writeConfiguration(path, config); err != nil {
		return err
	}
	Config = config
	return nil
}

func writeConfiguration(path string, config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
