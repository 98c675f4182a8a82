// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/refundguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAssessment stores an evaluated refund request with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if a == nil || a.ID == "" || a.Result == nil {
		return fmt.Errorf("%w: assessment id and result are required", ErrInvalidInput)
	}

	request, err := json.Marshal(a.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	policy, err := json.Marshal(a.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, order_number, customer_email, customer_name,
			fingerprint, action, risk_score, request, policy, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.OrderNumber,
		normalizeEmail(a.CustomerEmail), a.CustomerName,
		a.Fingerprint, string(a.Action), a.RiskScore,
		string(request), string(policy), string(result),
		a.CreatedAt.UTC(),
	)
	return err
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, id string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, order_number, customer_email, customer_name,
			   fingerprint, action, risk_score, request, policy, result, created_at
		FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments returns the most recent assessments for a tenant, newest first.
func (r *SQLRepository) ListAssessments(ctx context.Context, tenantID string, limit int) ([]*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, order_number, customer_email, customer_name,
			   fingerprint, action, risk_score, request, policy, result, created_at
		FROM assessments
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assessments := make([]*domain.Assessment, 0, limit)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

// ClearAssessments deletes a tenant's assessment history and returns the number removed.
func (r *SQLRepository) ClearAssessments(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM assessments WHERE tenant_id = ?`), tenantID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountCustomerRefunds counts a customer's assessed refund requests since the
// given time, leaving out rejected ones.
// Emails are compared case-insensitively.
func (r *SQLRepository) CountCustomerRefunds(ctx context.Context, tenantID string, email string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM assessments
		WHERE tenant_id = ? AND customer_email = ? AND created_at >= ? AND action <> ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		tenantID, normalizeEmail(email), since.UTC(), string(domain.ActionReject),
	).Scan(&count)
	return count, err
}

// SavePolicy upserts the tenant's merchant policy.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.MerchantPolicy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if policy == nil {
		return fmt.Errorf("%w: policy is required", ErrInvalidInput)
	}

	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	query := `
		INSERT INTO merchant_policies (tenant_id, policy, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			policy = excluded.policy,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, string(data), time.Now().UTC())
	return err
}

// GetPolicy retrieves the tenant's merchant policy.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string) (*domain.MerchantPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT policy FROM merchant_policies WHERE tenant_id = ?`), tenantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p domain.MerchantPolicy
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy for tenant %s: %w", tenantID, err)
	}
	return &p, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var action, request, policy, result string

	if err := row.Scan(
		&a.ID, &a.TenantID, &a.OrderNumber, &a.CustomerEmail, &a.CustomerName,
		&a.Fingerprint, &action, &a.RiskScore,
		&request, &policy, &result, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.Action = domain.Action(action)

	a.Request = &domain.RefundRequest{}
	if err := json.Unmarshal([]byte(request), a.Request); err != nil {
		return nil, fmt.Errorf("failed to parse request for assessment %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(policy), &a.Policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy for assessment %s: %w", a.ID, err)
	}
	a.Result = &domain.RiskAssessment{}
	if err := json.Unmarshal([]byte(result), a.Result); err != nil {
		return nil, fmt.Errorf("failed to parse result for assessment %s: %w", a.ID, err)
	}

	return &a, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
