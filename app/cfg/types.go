package cfg

import "time"

type Cfg struct {
	// Store configuration
	StoreDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string

	// Application configuration
	SourcesDir        string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Aggregation configuration
	AggregationTimeout int
	StaleWindow        int
	ItemTTL            int

	// Publish configuration
	PublishURL     string
	PublishAPIKey  string
	PublishCost    int64
	ReservationTTL int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

func (c *Cfg) AggregationTimeoutDuration() time.Duration {
	return time.Duration(c.AggregationTimeout) * time.Second
}

func (c *Cfg) StaleWindowDuration() time.Duration {
	return time.Duration(c.StaleWindow) * time.Second
}

func (c *Cfg) ItemTTLDuration() time.Duration {
	return time.Duration(c.ItemTTL) * time.Second
}

func (c *Cfg) ReservationTTLDuration() time.Duration {
	return time.Duration(c.ReservationTTL) * time.Second
}

func (c *Cfg) SchedulerIntervalDuration() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}
