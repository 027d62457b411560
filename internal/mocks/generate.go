// Package mocks provides mock implementations for testing the adcopy job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our core interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, Update, ListByStatus, Stats, Delete
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/mymuse-io/adcopy-api/internal/core JobRepository

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Set, Get, Delete, Exists, DeletePattern, Clear, Health
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/mymuse-io/adcopy-api/internal/core CacheRepository

// Generate mock for PipelineExecutor interface from internal/core package.
// This creates MockPipelineExecutor with the Run method.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=pipeline_executor_mock.go github.com/mymuse-io/adcopy-api/internal/core PipelineExecutor

// Generate mock for JobQueue interface from internal/core package.
// This creates MockJobQueue with the Enqueue method.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_queue_mock.go github.com/mymuse-io/adcopy-api/internal/core JobQueue
