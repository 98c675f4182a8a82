// Package domain defines the core interfaces and types for RefundGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Assessment history
	SaveAssessment(ctx context.Context, tenantID string, a *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, id string) (*Assessment, error)
	ListAssessments(ctx context.Context, tenantID string, limit int) ([]*Assessment, error)
	ClearAssessments(ctx context.Context, tenantID string) (int64, error)

	// CountCustomerRefunds counts stored, non-rejected assessments for a customer email since a point in time.
	CountCustomerRefunds(ctx context.Context, tenantID string, email string, since time.Time) (int64, error)

	// Merchant policy
	SavePolicy(ctx context.Context, tenantID string, policy *MerchantPolicy) error
	GetPolicy(ctx context.Context, tenantID string) (*MerchantPolicy, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
