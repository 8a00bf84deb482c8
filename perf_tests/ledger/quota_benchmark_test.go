package ledger_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"
)

// Configuration from environment
var (
	ledgerURL = getEnv("LEDGER_URL", "http://localhost:8080")
	perfTier  = getEnv("PERF_TIER", "paid")
)

// Helper to create an HTTP request carrying the trusted identity headers
func makeLedgerRequest(method, url, accountID string, body []byte) (*http.Response, error) {
	client := &http.Client{}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-Account-ID", accountID)
	req.Header.Set("X-Account-Tier", perfTier)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return client.Do(req)
}

// BenchmarkQuotaSnapshot measures the quota read path. The first request
// provisions the account; later requests are served from the snapshot
// cache when Redis is enabled, so this exercises the cache hit path.
//
// Usage:
//
//	LEDGER_URL=http://localhost:8080 go test -bench=BenchmarkQuotaSnapshot -benchtime=10000x
func BenchmarkQuotaSnapshot(b *testing.B) {
	// Skip if the ledger is not running
	resp, err := http.Get(ledgerURL + "/health")
	if err != nil {
		b.Skip("Ledger not running")
	}
	resp.Body.Close()

	accountID := fmt.Sprintf("perf-acct-%d", time.Now().Unix())

	b.Logf("Benchmarking quota snapshot: %d iterations", b.N)
	b.Logf("  Account: %s (%s)", accountID, perfTier)

	var totalBytes int64

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		resp, err := makeLedgerRequest("GET", ledgerURL+"/v1/quota", accountID, nil)
		if err != nil {
			b.Fatalf("Request failed: %v", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			b.Fatalf("Failed to read response: %v", err)
		}

		totalBytes += int64(len(body))

		if resp.StatusCode != 200 {
			b.Fatalf("Unexpected status: %d", resp.StatusCode)
		}
	}

	b.StopTimer()

	elapsed := b.Elapsed()
	opsPerSec := float64(b.N) / elapsed.Seconds()
	throughputMBps := float64(totalBytes) / elapsed.Seconds() / 1024 / 1024

	b.ReportMetric(opsPerSec, "ops/sec")
	b.ReportMetric(throughputMBps, "MB/s")
	b.ReportMetric(float64(elapsed.Nanoseconds()/int64(b.N))/1e6, "ms/op")
}

// BenchmarkUsageRecord measures the usage write path: one audit row plus
// one stream publish per call.
func BenchmarkUsageRecord(b *testing.B) {
	resp, err := http.Get(ledgerURL + "/health")
	if err != nil {
		b.Skip("Ledger not running")
	}
	resp.Body.Close()

	accountID := fmt.Sprintf("perf-acct-%d", time.Now().Unix())
	payload, err := json.Marshal(map[string]interface{}{
		"feature": "ocr",
		"success": true,
	})
	if err != nil {
		b.Fatalf("Failed to marshal payload: %v", err)
	}

	b.Logf("Benchmarking usage record: %d iterations", b.N)
	b.Logf("  Account: %s (%s)", accountID, perfTier)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		resp, err := makeLedgerRequest("POST", ledgerURL+"/v1/usage", accountID, payload)
		if err != nil {
			b.Fatalf("Request failed: %v", err)
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 201 {
			b.Fatalf("Unexpected status: %d", resp.StatusCode)
		}
	}
}

// TestQuotaSnapshotConcurrent measures the quota read path under load
// with multiple concurrent clients hitting the same account, which is
// the worst case for the snapshot cache (every mutation invalidates it).
func TestQuotaSnapshotConcurrent(t *testing.T) {
	resp, err := http.Get(ledgerURL + "/health")
	if err != nil {
		t.Skip("Ledger not running")
	}
	resp.Body.Close()

	numCalls := getEnvInt("PERF_NUM_CALLS", 10000)
	concurrency := getEnvInt("PERF_CONCURRENCY", 10)
	accountID := fmt.Sprintf("perf-acct-%d", time.Now().Unix())

	t.Logf("Concurrent quota snapshot test:")
	t.Logf("  Total calls: %d", numCalls)
	t.Logf("  Concurrency: %d", concurrency)
	t.Logf("  Account: %s (%s)", accountID, perfTier)

	start := time.Now()

	callsPerWorker := numCalls / concurrency
	doneChan := make(chan workerStats, concurrency)

	for w := 0; w < concurrency; w++ {
		go func(workerID int) {
			stats := workerStats{
				workerID: workerID,
			}

			workerStart := time.Now()

			for i := 0; i < callsPerWorker; i++ {
				reqStart := time.Now()

				resp, err := makeLedgerRequest("GET", ledgerURL+"/v1/quota", accountID, nil)
				if err != nil {
					stats.errors++
					continue
				}

				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()

				if resp.StatusCode != 200 {
					stats.errors++
					continue
				}

				reqDuration := time.Since(reqStart)

				stats.totalCalls++
				stats.totalBytes += int64(len(body))
				stats.totalLatency += reqDuration

				if reqDuration < stats.minLatency || stats.minLatency == 0 {
					stats.minLatency = reqDuration
				}
				if reqDuration > stats.maxLatency {
					stats.maxLatency = reqDuration
				}
			}

			stats.duration = time.Since(workerStart)
			doneChan <- stats
		}(w)
	}

	var totalStats workerStats
	for i := 0; i < concurrency; i++ {
		stats := <-doneChan
		totalStats.totalCalls += stats.totalCalls
		totalStats.totalBytes += stats.totalBytes
		totalStats.totalLatency += stats.totalLatency
		totalStats.errors += stats.errors

		if stats.minLatency < totalStats.minLatency || totalStats.minLatency == 0 {
			totalStats.minLatency = stats.minLatency
		}
		if stats.maxLatency > totalStats.maxLatency {
			totalStats.maxLatency = stats.maxLatency
		}
	}

	elapsed := time.Since(start)

	if totalStats.totalCalls == 0 {
		t.Fatalf("All requests failed! Check that the ledger is running at %s.\nErrors: %d",
			ledgerURL, totalStats.errors)
	}

	opsPerSec := float64(totalStats.totalCalls) / elapsed.Seconds()
	throughputMBps := float64(totalStats.totalBytes) / elapsed.Seconds() / 1024 / 1024
	avgLatency := totalStats.totalLatency / time.Duration(totalStats.totalCalls)

	t.Logf("\n========================================")
	t.Logf("Performance Results:")
	t.Logf("========================================")
	t.Logf("Total calls:     %d", totalStats.totalCalls)
	t.Logf("Errors:          %d", totalStats.errors)
	t.Logf("Duration:        %s", elapsed)
	t.Logf("Throughput:      %.2f ops/sec", opsPerSec)
	t.Logf("Data transferred: %.2f MB/s", throughputMBps)
	t.Logf("\nLatency:")
	t.Logf("  Min:     %s", totalStats.minLatency)
	t.Logf("  Average: %s", avgLatency)
	t.Logf("  Max:     %s", totalStats.maxLatency)
	t.Logf("========================================\n")
}

type workerStats struct {
	workerID     int
	totalCalls   int
	totalBytes   int64
	totalLatency time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	errors       int
	duration     time.Duration
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
