package config

import "time"

const (
	defaultPort     = 8080
	defaultLogLevel = "info"
)

var defaultDB = DB{
	Host: "127.0.0.1",
	Port: "5432",
	User: "myuser",
	Pass: "mypassword",
	Name: "test_db",
}

var defaultDispatch = Dispatch{
	OfferWindow:      5 * time.Minute,
	CandidateWindows: []int{1, 20},
	SweepInterval:    30 * time.Second,
	SweepBatch:       500,
	ParkedRetryAfter: time.Minute,
	OperationTimeout: 3 * time.Second,
	SweepLeaseTTL:    25 * time.Second,
}

var defaultRedispatch = Redispatch{
	Mode:        RedispatchLocal,
	Workers:     4,
	QueueSize:   1024,
	MaxAttempts: 4,
	BaseDelay:   150 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

var defaultKafka = Kafka{
	Brokers: []string{"localhost:9092"},
	Topic:   "delivery-events",
	GroupID: "courier-dispatch-worker",
}

var defaultRateLimit = RateLimit{
	Enabled:    true,
	Limit:      20,
	Window:     time.Second,
	TTL:        10 * time.Minute,
	MaxBuckets: 100_000,
}

var defaultPprof = Pprof{
	Enabled: false,
	Addr:    "127.0.0.1:6060",
}

// DefaultPort returns the default port.
func DefaultPort() int {
	return defaultPort
}

// DefaultDB returns the default database settings.
func DefaultDB() DB {
	return defaultDB
}

// DefaultDispatch returns the default dispatch settings.
func DefaultDispatch() Dispatch {
	d := defaultDispatch
	d.CandidateWindows = append([]int(nil), defaultDispatch.CandidateWindows...)
	return d
}

// DefaultRedispatch returns the default redispatch queue settings.
func DefaultRedispatch() Redispatch {
	return defaultRedispatch
}

// DefaultKafka returns the default kafka settings.
func DefaultKafka() Kafka {
	k := defaultKafka
	k.Brokers = append([]string(nil), defaultKafka.Brokers...)
	return k
}

// DefaultRateLimit returns the default rate limit settings.
func DefaultRateLimit() RateLimit {
	return defaultRateLimit
}

// DefaultPprof returns the default profiling listener settings.
func DefaultPprof() Pprof {
	return defaultPprof
}
