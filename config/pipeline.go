package config

import (
	"strings"
	"time"
)

// QueueBackend selects the task queue implementation.
type QueueBackend string

const (
	// QueueBackendLocal is the in-process channel queue.
	QueueBackendLocal QueueBackend = "local"
	// QueueBackendRedis is the Redis Streams queue.
	QueueBackendRedis QueueBackend = "redis"
)

// QueueConfig configures the task queue between the dispatcher and the worker pool.
type QueueConfig struct {
	Backend  QueueBackend `env:"QUEUE_BACKEND"  envDefault:"local"`
	Stream   string       `env:"QUEUE_STREAM"   envDefault:"bms:jobs"`
	Group    string       `env:"QUEUE_GROUP"    envDefault:"bms-workers"`
	Consumer string       `env:"QUEUE_CONSUMER" envDefault:""`
	// Buffer sizes the local queue.
	Buffer int `env:"QUEUE_BUFFER" envDefault:"512"`
	// ClaimIdle reclaims Redis messages a dead consumer left pending.
	ClaimIdle time.Duration `env:"QUEUE_CLAIM_IDLE" envDefault:"2m"`
	MaxLen    int64         `env:"QUEUE_MAX_LEN"    envDefault:"100000"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	q.Backend = QueueBackend(strings.ToLower(strings.TrimSpace(string(q.Backend))))
	if q.Backend != QueueBackendRedis {
		q.Backend = QueueBackendLocal
	}
	if q.Buffer < 1 {
		q.Buffer = 1
	}
	if q.ClaimIdle < 0 {
		q.ClaimIdle = 0
	}
	if q.MaxLen < 0 {
		q.MaxLen = 0
	}
}

// WorkerConfig configures the worker pool and the retry sweeper.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// Pace limits how many jobs per second the pool starts; zero is unlimited.
	Pace float64 `env:"WORKER_PACE" envDefault:"0"`

	// ProviderTimeout bounds one provider call including inline retries.
	ProviderTimeout time.Duration `env:"WORKER_PROVIDER_TIMEOUT" envDefault:"90s"`

	// ProviderRetries is the number of inline retries for connectivity failures.
	ProviderRetries int `env:"WORKER_PROVIDER_RETRIES" envDefault:"2"`

	// RetrySweepInterval is how often due retries are re-enqueued.
	RetrySweepInterval time.Duration `env:"WORKER_RETRY_SWEEP_INTERVAL" envDefault:"15s"`

	// RetrySweepBatch caps the jobs re-enqueued per sweep.
	RetrySweepBatch int `env:"WORKER_RETRY_SWEEP_BATCH" envDefault:"100"`

	// RedeliveryGrace pushes nextRetryAt forward when a retry is handed out,
	// so a lost message is redelivered after this long.
	RedeliveryGrace time.Duration `env:"WORKER_REDELIVERY_GRACE" envDefault:"5m"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Concurrency > 256 {
		w.Concurrency = 256
	}
	if w.Pace < 0 {
		w.Pace = 0
	}
	if w.ProviderTimeout < time.Second {
		w.ProviderTimeout = time.Second
	}
	if w.ProviderRetries < 0 {
		w.ProviderRetries = 0
	}
	if w.RetrySweepInterval < time.Second {
		w.RetrySweepInterval = time.Second
	}
	if w.RetrySweepBatch < 1 {
		w.RetrySweepBatch = 1
	}
	if w.RedeliveryGrace < 10*time.Second {
		w.RedeliveryGrace = 10 * time.Second
	}
}

// JobConfig configures the job retry policy.
type JobConfig struct {
	// MaxRetryCount bounds requeues of a transiently failing job.
	MaxRetryCount int `env:"JOB_MAX_RETRY_COUNT" envDefault:"5"`

	// RetryBaseDelay is multiplied by 2^(retryCount+1) to schedule a requeue.
	RetryBaseDelay time.Duration `env:"JOB_RETRY_BASE_DELAY" envDefault:"60s"`
}

// Sanitize applies guardrails to job configuration values.
func (j *JobConfig) Sanitize() {
	if j.MaxRetryCount < 0 {
		j.MaxRetryCount = 0
	}
	if j.MaxRetryCount > 5 {
		j.MaxRetryCount = 5
	}
	if j.RetryBaseDelay < time.Second {
		j.RetryBaseDelay = time.Second
	}
}

// BreakerStore selects where circuit breaker state lives.
type BreakerStore string

const (
	// BreakerStoreMemory keeps breaker state per process.
	BreakerStoreMemory BreakerStore = "memory"
	// BreakerStoreRedis shares breaker state across processes.
	BreakerStoreRedis BreakerStore = "redis"
)

// BreakerConfig configures the circuit breaker registry.
type BreakerConfig struct {
	Threshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	Cooldown  time.Duration `env:"BREAKER_COOLDOWN"  envDefault:"30s"`
	Store     BreakerStore  `env:"BREAKER_STORE"     envDefault:"memory"`
	Prefix    string        `env:"BREAKER_PREFIX"    envDefault:"bms:breaker:"`
	// TTL expires idle breaker keys in Redis.
	TTL time.Duration `env:"BREAKER_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to breaker configuration values.
func (b *BreakerConfig) Sanitize() {
	if b.Threshold < 1 {
		b.Threshold = 1
	}
	if b.Cooldown < time.Second {
		b.Cooldown = time.Second
	}
	b.Store = BreakerStore(strings.ToLower(strings.TrimSpace(string(b.Store))))
	if b.Store != BreakerStoreRedis {
		b.Store = BreakerStoreMemory
	}
	if b.TTL < 0 {
		b.TTL = 0
	}
}

// StoreConfig configures inline retries around store operations.
type StoreConfig struct {
	RetryMax          int           `env:"STORE_RETRY_MAX"           envDefault:"3"`
	RetryInitialDelay time.Duration `env:"STORE_RETRY_INITIAL_DELAY" envDefault:"100ms"`
	RetryMaxDelay     time.Duration `env:"STORE_RETRY_MAX_DELAY"     envDefault:"5s"`
}

// Sanitize applies guardrails to store retry configuration values.
func (s *StoreConfig) Sanitize() {
	if s.RetryMax < 0 {
		s.RetryMax = 0
	}
	if s.RetryMax > 10 {
		s.RetryMax = 10
	}
	if s.RetryInitialDelay <= 0 {
		s.RetryInitialDelay = 100 * time.Millisecond
	}
	if s.RetryMaxDelay < s.RetryInitialDelay {
		s.RetryMaxDelay = s.RetryInitialDelay
	}
}

// BatchConfig configures the batch aggregator's conflict handling.
type BatchConfig struct {
	ConflictAttempts int           `env:"BATCH_CONFLICT_ATTEMPTS" envDefault:"3"`
	ConflictBackoff  time.Duration `env:"BATCH_CONFLICT_BACKOFF"  envDefault:"75ms"`
}

// Sanitize applies guardrails to batch configuration values.
func (b *BatchConfig) Sanitize() {
	if b.ConflictAttempts < 1 {
		b.ConflictAttempts = 1
	}
	if b.ConflictBackoff <= 0 {
		b.ConflictBackoff = 75 * time.Millisecond
	}
}

// DuplicateConfig configures duplicate detection.
type DuplicateConfig struct {
	SimilarityThreshold float64 `env:"DUPLICATE_SIMILARITY_THRESHOLD" envDefault:"0.7"`
	SemanticEnabled     bool    `env:"DUPLICATE_SEMANTIC_ENABLED"     envDefault:"true"`
	CandidateLimit      int     `env:"DUPLICATE_CANDIDATE_LIMIT"      envDefault:"50"`
}

// Sanitize applies guardrails to duplicate detection configuration values.
func (d *DuplicateConfig) Sanitize() {
	if d.SimilarityThreshold <= 0 || d.SimilarityThreshold > 1 {
		d.SimilarityThreshold = 0.7
	}
	if d.CandidateLimit < 1 {
		d.CandidateLimit = 1
	}
	if d.CandidateLimit > 1000 {
		d.CandidateLimit = 1000
	}
}

// ProviderConfig configures the external analysis provider. An empty URL
// selects the built-in echo provider, which is only allowed in dev mode.
type ProviderConfig struct {
	Name             string `env:"PROVIDER_NAME"              envDefault:"vision"`
	URL              string `env:"PROVIDER_URL"               envDefault:""`
	APIKey           string `env:"PROVIDER_API_KEY"           envDefault:""`
	ResultExpression string `env:"PROVIDER_RESULT_EXPRESSION" envDefault:""`
}

// Sanitize normalises provider configuration values.
func (p *ProviderConfig) Sanitize() {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		p.Name = "vision"
	}
	p.URL = strings.TrimSpace(p.URL)
	p.ResultExpression = strings.TrimSpace(p.ResultExpression)
}
