// Benchmark tool for replaying labelled UPI payment records against Harrier.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/payments.csv -url http://localhost:8080
//
// The CSV needs a header row with the columns upi_id, reference, amount,
// date and is_fraud; payer_id and merchant are used when present.
//
// This tool:
//  1. Reads labelled payment records
//  2. Sends each record to POST /v1/transactions/validate
//  3. Compares fraudDetected with the label
//  4. Calculates precision, recall, F1-score and the confusion matrix
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// PaymentRecord is one labelled row from the CSV.
type PaymentRecord struct {
	UPIID     string
	Reference string
	Amount    string
	Date      string
	PayerID   string
	Merchant  string
	IsFraud   bool
}

// ValidateRequest mirrors the transaction record accepted by Harrier.
type ValidateRequest struct {
	UPIID     string `json:"upiId,omitempty"`
	Reference string `json:"referenceId,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Date      string `json:"date,omitempty"`
	Merchant  string `json:"merchantName,omitempty"`
	PayerID   string `json:"payerId,omitempty"`
}

// ValidateResponse holds the fields of a transaction validation the
// benchmark reads.
type ValidateResponse struct {
	OverallRiskScore float64  `json:"overallRiskScore"`
	FraudDetected    bool     `json:"fraudDetected"`
	Verdict          string   `json:"verdict"`
	Confidence       float64  `json:"confidence"`
	FraudIndicators  []string `json:"fraudIndicators"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud detected as fraud
	FalsePositives int64 // Legitimate flagged as fraud
	TrueNegatives  int64 // Legitimate passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled payments CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum records to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud records")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each record result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/payments.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("HARRIER BENCHMARK - UPI payment fraud detection")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier")
		os.Exit(1)
	}
	fmt.Println("Harrier is healthy")

	fmt.Printf("\nReading payments from %s...\n", *csvPath)
	records, err := readPaymentsCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("ERROR: no records loaded")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d records\n", len(records))

	fraudCount := 0
	for _, rec := range records {
		if rec.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(records)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(records)-fraudCount, 100*float64(len(records)-fraudCount)/float64(len(records)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(context.Background(), records, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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

func readPaymentsCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]PaymentRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"upi_id", "reference", "amount", "date", "is_fraud"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []PaymentRecord
	sampleCounter := 0

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		label := strings.ToLower(field(row, "is_fraud"))
		isFraud := label == "1" || label == "true"

		if fraudOnly && !isFraud {
			continue
		}

		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		records = append(records, PaymentRecord{
			UPIID:     field(row, "upi_id"),
			Reference: field(row, "reference"),
			Amount:    field(row, "amount"),
			Date:      field(row, "date"),
			PayerID:   field(row, "payer_id"),
			Merchant:  field(row, "merchant"),
			IsFraud:   isFraud,
		})

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func runBenchmark(ctx context.Context, records []PaymentRecord, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, numWorkers))

	for _, rec := range records {
		g.Go(func() error {
			start := time.Now()
			result, err := validateRecord(ctx, client, baseURL, tenantID, rec)
			atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
			atomic.AddInt64(&metrics.TotalProcessed, 1)

			if err != nil {
				atomic.AddInt64(&metrics.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR: %s -> %v\n", rec.Reference, err)
				}
				return nil
			}

			if rec.IsFraud {
				atomic.AddInt64(&metrics.TotalFraud, 1)
			} else {
				atomic.AddInt64(&metrics.TotalNonFraud, 1)
			}

			predicted := result.FraudDetected
			actual := rec.IsFraud

			switch {
			case predicted && actual:
				atomic.AddInt64(&metrics.TruePositives, 1)
			case predicted && !actual:
				atomic.AddInt64(&metrics.FalsePositives, 1)
			case !predicted && !actual:
				atomic.AddInt64(&metrics.TrueNegatives, 1)
			default:
				atomic.AddInt64(&metrics.FalseNegatives, 1)
			}

			if verbose {
				status := "ok  "
				if predicted != actual {
					status = "MISS"
				}
				fmt.Printf("%s %-24s | %-14s | Amount: %12s | Fraud: %-5v | Harrier: %-10s (%.1f)\n",
					status,
					truncate(rec.UPIID, 24),
					truncate(rec.Reference, 14),
					rec.Amount,
					rec.IsFraud,
					result.Verdict,
					result.OverallRiskScore,
				)
			}
			return nil
		})
	}

	// Workers never return errors; failures are counted in metrics.
	_ = g.Wait()

	return metrics
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func validateRecord(ctx context.Context, client *http.Client, baseURL, tenantID string, rec PaymentRecord) (*ValidateResponse, error) {
	body, err := json.Marshal(ValidateRequest{
		UPIID:     rec.UPIID,
		Reference: rec.Reference,
		Amount:    rec.Amount,
		Date:      rec.Date,
		Merchant:  rec.Merchant,
		PayerID:   rec.PayerID,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/transactions/validate", bytes.NewReader(body))
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
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD      PASS")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("          NF  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +----------+----------+")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged records, how many were fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how much was caught)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nDETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", tps)
	}

	fmt.Printf("\nINTERPRETATION\n")
	switch {
	case recall >= 0.9:
		fmt.Println("   Excellent recall - catching most fraud")
	case recall >= 0.7:
		fmt.Println("   Good recall - but missing some fraud")
	case recall >= 0.5:
		fmt.Println("   Moderate recall - significant fraud being missed")
	default:
		fmt.Println("   Poor recall - most fraud is being missed")
	}

	switch {
	case precision >= 0.5:
		fmt.Println("   Good precision - flags are meaningful")
	case precision >= 0.2:
		fmt.Println("   Low precision - many false alarms")
	default:
		fmt.Println("   Very low precision - mostly false alarms")
	}

	fmt.Println()
}
