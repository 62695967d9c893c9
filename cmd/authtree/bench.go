package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/MrEthical07/goAuthTree/tree"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench <tree>",
	Short: "Drive many journeys through a tree concurrently",
	Long: `Runs the named tree to completion --journeys times across --concurrency workers,
answering every prompt from the --answer name=value pairs, and reports latency percentiles
for the start round and for whole journeys.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		journeys, _ := cmd.Flags().GetInt("journeys")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		pairs, _ := cmd.Flags().GetStringSlice("answer")
		if journeys <= 0 || concurrency <= 0 {
			return fmt.Errorf("journeys and concurrency must be > 0")
		}
		answers, err := parseAnswers(pairs)
		if err != nil {
			return err
		}

		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		start, whole := runBench(cmd.Context(), rt.engine, args[0], answers, journeys, concurrency)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "---- results ----")
		printStats(out, "start", start)
		printStats(out, "journey", whole)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().Int("journeys", 1000, "number of journeys to run")
	benchCmd.Flags().Int("concurrency", 32, "number of concurrent workers")
	benchCmd.Flags().StringSlice("answer", nil, "callback answer as name=value (repeatable)")
}

func parseAnswers(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("answer %q: want name=value", p)
		}
		out[name] = value
	}
	return out, nil
}

// runBench returns stats for the start round alone and for each journey end to end. A
// journey counts as failed when it ends in failure, suspends, or errors.
func runBench(ctx context.Context, d journeyDriver, treeName string, answers map[string]string, journeys, concurrency int) (phaseStats, phaseStats) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		wg            sync.WaitGroup
		cursor        int64
		failures      int64
		startFailures int64
		starts        = make([]time.Duration, 0, journeys)
		wholes        = make([]time.Duration, 0, journeys)
		mu            sync.Mutex
	)

	begin := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			req := journey.Request{ClientIP: fmt.Sprintf("10.0.%d.%d", worker/250, worker%250+1)}
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= journeys {
					return
				}
				t0 := time.Now()
				res, err := d.Start(ctx, treeName, req)
				ds := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&startFailures, 1)
				}
				for err == nil && res.Status == tree.StatusActive {
					res, err = d.Continue(ctx, res.JourneyID, res.Nonce, fill(res.Callbacks, answers), req)
				}
				dw := time.Since(t0)
				if err != nil || res.Status != tree.StatusSuccess {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				starts = append(starts, ds)
				wholes = append(wholes, dw)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(begin)
	return computeStats(total, starts, startFailures), computeStats(total, wholes, failures)
}

// fill answers every input callback whose name is in answers. Unknown prompts are sent
// back empty, which re-prompts and eventually exhausts the tree's own limits.
func fill(cbs []journey.Callback, answers map[string]string) []journey.Callback {
	out := make([]journey.Callback, len(cbs))
	for i, cb := range cbs {
		if v, ok := answers[cb.Name]; ok {
			if set, err := cb.Value.Set(v); err == nil {
				cb.Value = set
			}
		}
		out[i] = cb
	}
	return out
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
