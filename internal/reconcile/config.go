package reconcile

import (
	"time"

	"github.com/smallbiznis/catalog/internal/config"
)

// Config controls the reconciliation workers, queue drivers and refresher.
type Config struct {
	Driver          string
	Workers         int
	QueueSize       int
	TaskTimeout     time.Duration
	RefreshInterval time.Duration
	RefreshLockKey  string
	RefreshLockTTL  time.Duration
	// ScheduleTimeout bounds enqueueing on the request path.
	ScheduleTimeout time.Duration
	WarmUp          bool

	Stream           string
	ConsumerGroup    string
	ConsumerName     string
	DeadLetterStream string
	ClaimMinIdle     time.Duration
	ReadBlock        time.Duration
	StreamMaxLen     int64

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	KafkaDeadLetter string
}

func DefaultConfig() Config {
	return Config{
		Driver:           config.QueueDriverMemory,
		Workers:          4,
		QueueSize:        1024,
		TaskTimeout:      30 * time.Second,
		RefreshLockKey:   "catalog:refresh:lock",
		RefreshLockTTL:   30 * time.Second,
		ScheduleTimeout:  250 * time.Millisecond,
		Stream:           "catalog:reconcile",
		ConsumerGroup:    "catalog-workers",
		ConsumerName:     "catalog",
		DeadLetterStream: "catalog:reconcile:dlq",
		ClaimMinIdle:     5 * time.Minute,
		ReadBlock:        2 * time.Second,
		StreamMaxLen:     100000,
		KafkaTopic:       "catalog.reconcile",
		KafkaGroupID:     "catalog-workers",
		KafkaDeadLetter:  "catalog.reconcile.dlq",
	}
}

// ConfigFrom maps the process configuration onto worker settings.
func ConfigFrom(cfg config.Config) Config {
	rc := cfg.Reconcile
	return Config{
		Driver:           rc.QueueDriver,
		Workers:          rc.Workers,
		QueueSize:        rc.QueueSize,
		RefreshInterval:  rc.RefreshInterval,
		RefreshLockTTL:   rc.RefreshLockTTL,
		ScheduleTimeout:  rc.ScheduleTimeout,
		WarmUp:           rc.WarmUp,
		Stream:           rc.Stream,
		ConsumerGroup:    rc.ConsumerGroup,
		ConsumerName:     rc.ConsumerName,
		DeadLetterStream: rc.DeadLetterStream,
		ClaimMinIdle:     rc.ClaimMinIdle,
		KafkaBrokers:     rc.KafkaBrokers,
		KafkaTopic:       rc.KafkaTopic,
		KafkaGroupID:     rc.KafkaGroupID,
		KafkaDeadLetter:  rc.KafkaDeadLetter,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Driver == "" {
		c.Driver = defaults.Driver
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaults.TaskTimeout
	}
	if c.RefreshLockKey == "" {
		c.RefreshLockKey = defaults.RefreshLockKey
	}
	if c.RefreshLockTTL <= 0 {
		c.RefreshLockTTL = defaults.RefreshLockTTL
	}
	if c.ScheduleTimeout <= 0 {
		c.ScheduleTimeout = defaults.ScheduleTimeout
	}
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = defaults.ConsumerGroup
	}
	if c.ConsumerName == "" {
		c.ConsumerName = defaults.ConsumerName
	}
	if c.DeadLetterStream == "" {
		c.DeadLetterStream = defaults.DeadLetterStream
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = defaults.ClaimMinIdle
	}
	if c.ReadBlock <= 0 {
		c.ReadBlock = defaults.ReadBlock
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaults.StreamMaxLen
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = defaults.KafkaTopic
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = defaults.KafkaGroupID
	}
	if c.KafkaDeadLetter == "" {
		c.KafkaDeadLetter = defaults.KafkaDeadLetter
	}
	return c
}
