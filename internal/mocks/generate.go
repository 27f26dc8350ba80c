// Package mocks provides mock implementations of the bms-ingest ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the interfaces in internal/core.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// CreateBatch, GetByID, Claim, Complete, Fail, Requeue, Defer, ClaimDueRetries, ListByBatch, StatusesByBatch, CountsByBatch
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/bms-ingest/internal/core JobRepository

// Generate mock for BatchRepository interface from internal/core package.
// This creates MockBatchRepository with methods for all BatchRepository interface methods:
// Get, UpdateIfVersion
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=batch_repository_mock.go github.com/target/bms-ingest/internal/core BatchRepository

// Generate mock for AnalysisRecordRepository interface from internal/core package.
// This creates MockAnalysisRecordRepository with methods for all AnalysisRecordRepository interface methods:
// GetByID, FindByBasenames
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analysis_record_repository_mock.go github.com/target/bms-ingest/internal/core AnalysisRecordRepository

// Generate mock for FeedbackRepository interface from internal/core package.
// This creates MockFeedbackRepository with methods for all FeedbackRepository interface methods:
// Create, FindByHash, ListRecent
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=feedback_repository_mock.go github.com/target/bms-ingest/internal/core FeedbackRepository

// Generate mock for AnalysisProvider interface from internal/core package.
// This creates MockAnalysisProvider with methods for all AnalysisProvider interface methods:
// Name, Analyze
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analysis_provider_mock.go github.com/target/bms-ingest/internal/core AnalysisProvider

// Generate mock for TaskProducer interface from internal/core package.
// This creates MockTaskProducer with methods for all TaskProducer interface methods:
// Enqueue
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_producer_mock.go github.com/target/bms-ingest/internal/core TaskProducer

// Generate mock for TaskConsumer interface from internal/core package.
// This creates MockTaskConsumer with methods for all TaskConsumer interface methods:
// Receive
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_consumer_mock.go github.com/target/bms-ingest/internal/core TaskConsumer

// Generate mock for BreakerStateStore interface from internal/core package.
// This creates MockBreakerStateStore with methods for all BreakerStateStore interface methods:
// Load, Save, Delete, List
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=breaker_state_store_mock.go github.com/target/bms-ingest/internal/core BreakerStateStore

// Generate mock for BatchNotifier interface from internal/core package.
// This creates MockBatchNotifier with methods for all BatchNotifier interface methods:
// UpdateBatchJob
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=batch_notifier_mock.go github.com/target/bms-ingest/internal/core BatchNotifier

// Generate mock for ReaperRepository interface from internal/core package.
// This creates MockReaperRepository with methods for all ReaperRepository interface methods:
// RequeueStaleProcessing, FailStaleQueuedJobs, StripTerminalPayloads
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/bms-ingest/internal/core ReaperRepository

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Set, Get, Delete, SetIfNotExists, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/bms-ingest/internal/core CacheRepository
