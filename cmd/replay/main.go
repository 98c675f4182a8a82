// Replay tool for checking RefundGuard decisions against labeled cases.
//
// Usage:
//
//	go run ./cmd/replay -cases /path/to/cases.jsonl -url http://localhost:8080
//
// Each line of the cases file is a JSON object:
//
//	{"name": "damaged mug", "expected": "APPROVE", "request": {...}}
//
// The tool posts every request to /assess, compares the returned action with
// the expected one and prints a confusion matrix with per-action precision
// and recall.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var actions = []string{"APPROVE", "FLAG", "REJECT"}

// Case is one labeled refund request.
type Case struct {
	Name     string          `json:"name"`
	Expected string          `json:"expected"`
	Request  json.RawMessage `json:"request"`
}

// AssessResponse is the subset of the /assess response the tool reads.
type AssessResponse struct {
	AssessmentID string `json:"assessmentId"`
	Cached       bool   `json:"cached"`
	Data         struct {
		Action     string  `json:"action"`
		RiskScore  int     `json:"risk_score"`
		Confidence float64 `json:"confidence"`
	} `json:"data"`
}

// Matrix counts outcomes by expected and actual action.
type Matrix struct {
	mu     sync.Mutex
	counts map[string]map[string]int

	Errors         int64
	ProcessingTime int64 // milliseconds, summed across requests
}

// NewMatrix returns an empty confusion matrix.
func NewMatrix() *Matrix {
	m := &Matrix{counts: make(map[string]map[string]int)}
	for _, a := range actions {
		m.counts[a] = make(map[string]int)
	}
	return m
}

// Add records one case outcome.
func (m *Matrix) Add(expected, actual string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[expected] == nil {
		m.counts[expected] = make(map[string]int)
	}
	m.counts[expected][actual]++
}

// Count returns how many cases expected to be expected came back as actual.
func (m *Matrix) Count(expected, actual string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[expected][actual]
}

// Total returns the number of recorded cases.
func (m *Matrix) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.counts {
		for _, c := range row {
			n += c
		}
	}
	return n
}

// Accuracy is the share of cases whose action matched the label.
func (m *Matrix) Accuracy() float64 {
	total := m.Total()
	if total == 0 {
		return 0
	}
	correct := 0
	for _, a := range actions {
		correct += m.Count(a, a)
	}
	return float64(correct) / float64(total)
}

// PrecisionRecall returns precision and recall for one action.
func (m *Matrix) PrecisionRecall(action string) (precision, recall float64) {
	tp := m.Count(action, action)
	predicted, labeled := 0, 0
	for _, other := range actions {
		predicted += m.Count(other, action)
		labeled += m.Count(action, other)
	}
	if predicted > 0 {
		precision = float64(tp) / float64(predicted)
	}
	if labeled > 0 {
		recall = float64(tp) / float64(labeled)
	}
	return precision, recall
}

func main() {
	casesPath := flag.String("cases", "", "Path to JSONL file of labeled cases")
	baseURL := flag.String("url", "http://localhost:8080", "RefundGuard base URL")
	tenantID := flag.String("tenant", "replay-test", "Tenant ID for requests")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *casesPath == "" {
		fmt.Println("Usage: replay -cases /path/to/cases.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            REFUNDGUARD REPLAY - Labeled Refund Cases          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCases File:  %s\n", *casesPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: RefundGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure RefundGuard is running:")
		fmt.Println("  go run ./cmd/refundguard")
		os.Exit(1)
	}
	fmt.Println("✓ RefundGuard is healthy")

	f, err := os.Open(*casesPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	cases, err := readCases(f)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d cases\n", len(cases))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	start := time.Now()
	m := replay(cases, *baseURL, *tenantID, *workers, *verbose)
	printResults(m, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readCases parses a JSONL stream. Blank lines and lines starting with # are skipped.
func readCases(r io.Reader) ([]Case, error) {
	var cases []Case
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c.Expected = strings.ToUpper(strings.TrimSpace(c.Expected))
		if !validAction(c.Expected) {
			return nil, fmt.Errorf("line %d: unknown expected action %q", line, c.Expected)
		}
		if len(c.Request) == 0 {
			return nil, fmt.Errorf("line %d: request is required", line)
		}
		if c.Name == "" {
			c.Name = fmt.Sprintf("case-%d", line)
		}
		cases = append(cases, c)
	}
	return cases, scanner.Err()
}

func validAction(a string) bool {
	for _, known := range actions {
		if a == known {
			return true
		}
	}
	return false
}

func replay(cases []Case, baseURL, tenantID string, numWorkers int, verbose bool) *Matrix {
	m := NewMatrix()
	work := make(chan Case, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := assess(client, baseURL, tenantID, c.Request)
				atomic.AddInt64(&m.ProcessingTime, time.Since(start).Milliseconds())

				if err != nil {
					atomic.AddInt64(&m.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.Name, err)
					}
					continue
				}

				m.Add(c.Expected, result.Data.Action)

				if verbose {
					status := "✓"
					if result.Data.Action != c.Expected {
						status = "✗"
					}
					fmt.Printf("%s %-30s | Expected: %-7s | Got: %-7s | Score: %3d | Confidence: %.2f\n",
						status,
						truncate(c.Name, 30),
						c.Expected,
						result.Data.Action,
						result.Data.RiskScore,
						result.Data.Confidence,
					)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)
	wg.Wait()

	return m
}

func assess(client *http.Client, baseURL, tenantID string, body []byte) (*AssessResponse, error) {
	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func printResults(m *Matrix, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        REPLAY RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	total := m.Total()
	fmt.Printf("\nCASES\n")
	fmt.Printf("   Assessed:  %d\n", total)
	fmt.Printf("   Errors:    %d\n", m.Errors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                           Actual")
	fmt.Println("                   APPROVE      FLAG    REJECT")
	fmt.Println("              ┌──────────┬──────────┬──────────┐")
	for i, expected := range actions {
		fmt.Printf("   %-9s  │ %8d │ %8d │ %8d │\n",
			expected,
			m.Count(expected, "APPROVE"),
			m.Count(expected, "FLAG"),
			m.Count(expected, "REJECT"),
		)
		if i < len(actions)-1 {
			fmt.Println("              ├──────────┼──────────┼──────────┤")
		}
	}
	fmt.Println("              └──────────┴──────────┴──────────┘")
	fmt.Println("   (rows: expected)")

	fmt.Printf("\nPER-ACTION METRICS\n")
	for _, a := range actions {
		p, r := m.PrecisionRecall(a)
		fmt.Printf("   %-8s precision %.4f  recall %.4f\n", a, p, r)
	}
	fmt.Printf("   Accuracy: %.4f\n", m.Accuracy())

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if processed := int64(total) + m.Errors; processed > 0 {
		fmt.Printf("   Avg Latency:     %.2f ms\n", float64(m.ProcessingTime)/float64(processed))
		fmt.Printf("   Throughput:      %.2f req/sec\n", float64(processed)/duration.Seconds())
	}

	// A missed REJECT costs the merchant money; a missed APPROVE costs goodwill.
	if missed := m.Count("REJECT", "APPROVE"); missed > 0 {
		fmt.Printf("\n   ⚠️  %d expected REJECT cases were approved\n", missed)
	}
	fmt.Println()
}
