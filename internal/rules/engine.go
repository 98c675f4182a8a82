// Package rules evaluates merchant-defined CEL expressions over refund features.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/features"
)

// Engine compiles and evaluates custom rules. Compiled programs are cached
// by expression text, so the same expression shared across merchants
// compiles once.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	programs   map[string]cel.Program
	cacheSize  int
	maxWorkers int
}

// Outcome is the result of evaluating one custom rule.
type Outcome struct {
	Rule    domain.CustomRule
	Matched bool
	Err     error
}

// Vars is the CEL activation for one refund request.
type Vars map[string]any

// NewEngine creates a custom rule engine.
func NewEngine(cacheSize, maxWorkers int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 500
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("days_since_order", cel.IntType),
		cel.Variable("hours_since_order", cel.IntType),
		cel.Variable("refund_percentage", cel.DoubleType),
		cel.Variable("refund_amount", cel.DoubleType),
		cel.Variable("order_total", cel.DoubleType),
		cel.Variable("refund_rate", cel.DoubleType),
		cel.Variable("account_age_days", cel.IntType), // -1 when unknown
		cel.Variable("total_orders", cel.IntType),
		cel.Variable("total_refunds", cel.IntType),
		cel.Variable("recent_refunds", cel.IntType),
		cel.Variable("is_digital", cel.BoolType),
		cel.Variable("is_chargeback_risk", cel.BoolType),
		cel.Variable("is_address_mismatch", cel.BoolType),
		cel.Variable("has_images", cel.BoolType),
		cel.Variable("delivery_status", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("reason_class", cel.StringType),
		cel.Variable("seasonal_context", cel.StringType),
		cel.Variable("categories", cel.ListType(cel.StringType)),
		cel.Variable("email_verified", cel.BoolType),
		cel.Variable("phone_verified", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		programs:   make(map[string]cel.Program),
		cacheSize:  cacheSize,
		maxWorkers: maxWorkers,
	}, nil
}

// NewVars builds the activation for a request from its derived features.
func NewVars(req *domain.RefundRequest, f features.Features, reasonClass string) Vars {
	h := req.CustomerHistory

	ageDays := int64(-1)
	if f.AccountAgeKnown {
		ageDays = int64(f.AccountAgeDays)
	}

	categories := make([]string, len(req.ProductCategories))
	copy(categories, req.ProductCategories)

	return Vars{
		"days_since_order":    int64(f.DaysSinceOrder),
		"hours_since_order":   int64(f.HoursSinceOrder),
		"refund_percentage":   f.RefundPercentage.InexactFloat64(),
		"refund_amount":       req.RefundAmount.InexactFloat64(),
		"order_total":         req.OrderTotal.InexactFloat64(),
		"refund_rate":         h.RefundRate,
		"account_age_days":    ageDays,
		"total_orders":        int64(h.TotalOrders),
		"total_refunds":       int64(h.TotalRefunds),
		"recent_refunds":      int64(f.RecentRefunds),
		"is_digital":          req.IsDigitalProduct,
		"is_chargeback_risk":  req.IsChargebackRisk,
		"is_address_mismatch": req.IsAddressMismatch,
		"has_images":          f.HasImages,
		"delivery_status":     string(req.DeliveryStatus),
		"payment_method":      string(req.PaymentMethod),
		"reason_class":        reasonClass,
		"seasonal_context":    string(req.SeasonalContext),
		"categories":          categories,
		"email_verified":      h.EmailVerified,
		"phone_verified":      h.PhoneVerified,
	}
}

// Validate compiles a rule and checks its point bounds without evaluating it.
func (e *Engine) Validate(rule domain.CustomRule) error {
	if rule.ID == "" {
		return fmt.Errorf("custom rule id is required")
	}
	if rule.Points < domain.MinCustomRulePoints || rule.Points > domain.MaxCustomRulePoints {
		return fmt.Errorf("custom rule %s: points %d out of range [%d,%d]",
			rule.ID, rule.Points, domain.MinCustomRulePoints, domain.MaxCustomRulePoints)
	}
	_, err := e.program(rule)
	return err
}

// ValidateAll validates every rule and rejects duplicate ids.
func (e *Engine) ValidateAll(rules []domain.CustomRule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return fmt.Errorf("duplicate custom rule id %s", r.ID)
		}
		seen[r.ID] = true
		if err := e.Validate(r); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs every rule against vars. Outcomes keep the order of rules.
// A rule that fails to compile or evaluate yields an Outcome with Err set.
func (e *Engine) Evaluate(rules []domain.CustomRule, vars Vars) []Outcome {
	if len(rules) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r domain.CustomRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			outcomes[idx] = e.evaluateRule(r, vars)
		}(i, rule)
	}

	wg.Wait()

	return outcomes
}

func (e *Engine) evaluateRule(rule domain.CustomRule, vars Vars) Outcome {
	out := Outcome{Rule: rule}

	if rule.Points < domain.MinCustomRulePoints || rule.Points > domain.MaxCustomRulePoints {
		out.Err = fmt.Errorf("points %d out of range", rule.Points)
		return out
	}

	prg, err := e.program(rule)
	if err != nil {
		out.Err = err
		return out
	}

	val, _, err := prg.Eval(map[string]any(vars))
	if err != nil {
		out.Err = fmt.Errorf("evaluation error: %w", err)
		return out
	}

	b, ok := val.(types.Bool)
	if !ok {
		out.Err = fmt.Errorf("expression returned %s, want bool", val.Type().TypeName())
		return out
	}
	out.Matched = bool(b)
	return out
}

// program returns the cached program for the rule's expression, compiling it on first use.
func (e *Engine) program(rule domain.CustomRule) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[rule.Expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile custom rule %s: %w", rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("custom rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for custom rule %s: %w", rule.ID, err)
	}

	e.mu.Lock()
	if len(e.programs) >= e.cacheSize {
		e.programs = make(map[string]cel.Program)
	}
	e.programs[rule.Expression] = prg
	e.mu.Unlock()

	return prg, nil
}

// CachedPrograms returns the number of compiled programs held.
func (e *Engine) CachedPrograms() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Close drops every cached program.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}
