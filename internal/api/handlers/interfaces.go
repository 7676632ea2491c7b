// Package handlers provides HTTP request handlers for the worker API.
package handlers

import (
	"context"

	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/scheduler"
	"github.com/alqutdigital/funding-crawler/internal/storage"
)

// HealthChecker defines an interface for components that can report health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

// Health calls f.
func (f HealthFunc) Health(ctx context.Context) error { return f(ctx) }

// JobController is the part of the scheduler the API drives.
type JobController interface {
	Status() []scheduler.JobStatus
	Trigger(name string) error
}

// MetricsSource exposes crawl counters.
type MetricsSource interface {
	Snapshot() crawler.MetricsSnapshot
}

// CacheMetricsSource exposes page cache counters.
type CacheMetricsSource interface {
	Metrics() storage.CacheMetrics
}

// StateSource exposes the persisted discovery state.
type StateSource interface {
	All() storage.DiscoveryStateCache
}
