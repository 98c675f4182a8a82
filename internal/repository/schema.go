package repository

// Schema definitions for the RefundGuard database.
// Compatible with both SQLite and PostgreSQL.

// schemaAssessments stores every evaluated refund request. The request,
// policy and result columns hold the JSON documents exactly as evaluated.
const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    order_number TEXT NOT NULL,
    customer_email TEXT NOT NULL,
    customer_name TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    action TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    request TEXT NOT NULL,
    policy TEXT NOT NULL,
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_customer ON assessments(tenant_id, customer_email, created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_fingerprint ON assessments(tenant_id, fingerprint);
CREATE INDEX IF NOT EXISTS idx_assessments_action ON assessments(tenant_id, action);
`

const schemaMerchantPolicies = `
CREATE TABLE IF NOT EXISTS merchant_policies (
    tenant_id TEXT PRIMARY KEY,
    policy TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAssessments,
		schemaMerchantPolicies,
	}
}
