package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var defaultLoadQueries = []string{
	"LA Galaxy",
	"PA Galuxy",
	"Seattle Sounders",
	"sounders fc",
	"real salt lake",
	"galaxy ii",
	"Giltinis",
	"new york",
	"inter miami",
	"portland timbers",
}

type loadOptions struct {
	addr        string
	concurrency int
	duration    time.Duration
	limit       int
	rps         float64
	queries     []string
}

type loadStats struct {
	total   atomic.Int64
	success atomic.Int64
	errors  atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[status]++
	s.mu.Unlock()
}

func newLoadTestCmd() *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive search traffic at a running service",
		Long: `Send concurrent queries to the base64 search route for a fixed
duration and report throughput, latency percentiles, and status codes.

Examples:
  trigramctl loadtest --concurrency 20 --duration 1m
  trigramctl loadtest --rps 200 --query "LA Galaxy" --query "Sounders"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.queries) == 0 {
				opts.queries = defaultLoadQueries
			}
			if opts.concurrency < 1 {
				return fmt.Errorf("--concurrency must be >= 1")
			}
			stats, err := runLoadTest(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printLoadReport(cmd.OutOrStdout(), stats, opts.duration)
			if stats.total.Load() == 0 {
				return fmt.Errorf("no requests completed; is the service running at %s?", opts.addr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "http://localhost:18080", "Service base URL")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 10, "Concurrent workers")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 30*time.Second, "Test duration")
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 5, "Result limit per query")
	cmd.Flags().Float64Var(&opts.rps, "rps", 0, "Total request rate cap; 0 means unlimited")
	cmd.Flags().StringArrayVarP(&opts.queries, "query", "q", nil, "Query to send (repeatable)")
	return cmd
}

func runLoadTest(ctx context.Context, opts loadOptions) (*loadStats, error) {
	base, err := url.Parse(strings.TrimRight(opts.addr, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing --addr: %w", err)
	}
	targets := make([]string, len(opts.queries))
	for i, q := range opts.queries {
		targets[i] = base.JoinPath("search", base64.URLEncoding.EncodeToString([]byte(q)), strconv.Itoa(opts.limit)).String()
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	var limiter *rate.Limiter
	if opts.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rps), 1)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	stats := newLoadStats()
	var wg sync.WaitGroup
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				if limiter != nil && limiter.Wait(ctx) != nil {
					return
				}
				target := targets[next%len(targets)]
				next++

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					stats.record(0, 0, err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(elapsed, 0, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(elapsed, resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
	return stats, nil
}

func printLoadReport(w io.Writer, stats *loadStats, duration time.Duration) {
	total := stats.total.Load()
	errs := stats.errors.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", stats.success.Load())
	fmt.Fprintf(w, "Errors:          %d\n", errs)
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make(map[int]int64, len(stats.codes))
	for k, v := range stats.codes {
		codes[k] = v
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Fprintf(w, "P50:    %s\n", latencyPercentile(latencies, 50))
		fmt.Fprintf(w, "P95:    %s\n", latencyPercentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", latencyPercentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		fmt.Fprintf(w, "  %d: %d\n", code, codes[code])
	}
}

func latencyPercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
