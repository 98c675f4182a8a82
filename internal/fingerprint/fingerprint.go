// Package fingerprint computes stable content hashes of refund requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/opensource-finance/refundguard/internal/domain"
)

type document struct {
	Request *domain.RefundRequest `json:"request"`
	Policy  domain.MerchantPolicy `json:"policy"`
}

// Of returns the hex SHA-256 of the RFC 8785 canonical JSON of the request
// and the policy it is evaluated under. Two submissions with equal content
// hash equally regardless of key order or whitespace in the original body.
func Of(req *domain.RefundRequest, policy domain.MerchantPolicy) (string, error) {
	// The effective policy is hashed on its own.
	r := *req
	r.MerchantPolicy = nil

	raw, err := json.Marshal(document{Request: &r, Policy: policy})
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint document: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint document: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
