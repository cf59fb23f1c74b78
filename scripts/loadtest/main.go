// Loadtest sends concurrent requests through the proxy for one virtual host
// and prints how they were distributed across backends.
//
// Usage:
//
//	go run ./scripts/loadtest -proxy http://127.0.0.1:8080 -host app1.local -concurrency 20 -requests 1000
//	go run ./scripts/loadtest -host app2.local -out summary.json
//
// Backends are identified by the X-Backend-Server response header, which
// scripts/echobackend sets.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

type backendStats struct {
	Count     int             `json:"count"`
	Latencies []time.Duration `json:"-"`
}

type backendSummary struct {
	Count int     `json:"count"`
	Share float64 `json:"share"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

func main() {
	var (
		target      = flag.String("proxy", "http://127.0.0.1:8080", "proxy URL")
		host        = flag.String("host", "app1.local", "Host header to send")
		concurrency = flag.Int("concurrency", 10, "number of concurrent workers")
		requests    = flag.Int("requests", 100, "total number of requests")
		timeout     = flag.Duration("timeout", 10*time.Second, "per-request timeout")
		outJSON     = flag.String("out", "", "write a JSON summary to this file")
	)
	flag.Parse()

	// The proxy serves one request per connection.
	client := &http.Client{
		Timeout:   *timeout,
		Transport: &http.Transport{DisableKeepAlives: true},
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		stats       = make(map[string]*backendStats)
		statusCodes = make(map[int]int)
		failures    int
	)

	jobs := make(chan int)
	start := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				begin := time.Now()
				backend, status, err := send(client, *target, *host)
				dur := time.Since(begin)

				mu.Lock()
				if err != nil {
					failures++
					mu.Unlock()
					continue
				}
				statusCodes[status]++
				bs, ok := stats[backend]
				if !ok {
					bs = &backendStats{}
					stats[backend] = bs
				}
				bs.Count++
				bs.Latencies = append(bs.Latencies, dur)
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	summary := summarize(stats, *requests)

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Proxy: %s  Host: %s\n", *target, *host)
	fmt.Printf("Requests: %d  Concurrency: %d  Failures: %d\n", *requests, *concurrency, failures)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", elapsed, float64(*requests)/elapsed.Seconds())

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(statusCodes))
	for code := range statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, statusCodes[code])
	}

	fmt.Println("\nBackend distribution:")
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := summary[name]
		fmt.Printf("  %-24s count=%-6d share=%5.1f%%  p50=%.1fms p95=%.1fms p99=%.1fms\n",
			name, s.Count, s.Share*100, s.P50, s.P95, s.P99)
	}

	if *outJSON != "" {
		if err := writeJSON(*outJSON, summary); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write summary: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failures > 0 {
		os.Exit(2)
	}
}

func send(client *http.Client, target, host string) (string, int, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return "", 0, err
	}
	req.Host = host

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	backend := resp.Header.Get("X-Backend-Server")
	if backend == "" {
		backend = "(fallback)"
	}
	return backend, resp.StatusCode, nil
}

func summarize(stats map[string]*backendStats, total int) map[string]backendSummary {
	out := make(map[string]backendSummary, len(stats))
	for name, bs := range stats {
		sorted := append([]time.Duration(nil), bs.Latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		pick := func(p float64) float64 {
			if len(sorted) == 0 {
				return 0
			}
			return float64(sorted[int(float64(len(sorted)-1)*p)].Microseconds()) / 1000
		}

		out[name] = backendSummary{
			Count: bs.Count,
			Share: float64(bs.Count) / float64(total),
			P50:   pick(0.50),
			P95:   pick(0.95),
			P99:   pick(0.99),
		}
	}
	return out
}

func writeJSON(path string, summary map[string]backendSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
