// Package main — cmd/admission-sim/main.go
//
// admission-sim is a mock-data generator and traffic harness: it produces
// synthetic ServiceCostSeries with injectable final-day cost spikes through
// the pattern-attenuated ensemble combiner, drives synthetic check_admission
// traffic against an in-memory registry, and pushes single failure-scenario
// metrics through internal/injector for exercising the query façade and
// health evaluator against a real pushgateway/Prometheus pair. It is not
// part of the specified core — a thin CLI for exercising the library
// packages end to end without standing up a live cluster.
//
// Adapted from octoreflex-sim's structure (flags, seeded RNG loop, CSV
// output to stdout, summary to stderr), replaced with this domain's three
// simulation modes instead of the dominance-condition model.
//
// Usage:
//   admission-sim -mode cost -services 20 -days 30 -anomaly-rate 0.1
//   admission-sim -mode admission -requests 5000 -sources 3
//   admission-sim -mode inject -scenario crash-loop -pushgateway http://127.0.0.1:9091
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/dataplatform/admissionctl/internal/admission"
	"github.com/dataplatform/admissionctl/internal/anomaly"
	"github.com/dataplatform/admissionctl/internal/domain"
	"github.com/dataplatform/admissionctl/internal/injector"
	"github.com/dataplatform/admissionctl/internal/pattern"
	"github.com/dataplatform/admissionctl/internal/registry"
	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", "cost", "Simulation mode: cost | admission | inject")
	services := flag.Int("services", 20, "Number of synthetic services (cost mode)")
	days := flag.Int("days", 30, "Number of daily cost samples per service (cost mode)")
	anomalyRate := flag.Float64("anomaly-rate", 0.1, "Fraction of services with an injected spike (cost mode)")
	requests := flag.Int("requests", 5000, "Number of synthetic acquire calls (admission mode)")
	sources := flag.Int("sources", 3, "Number of distinct src_db_id values (admission mode)")
	patternEnabled := flag.Bool("pattern", true, "Attenuate confidence with the pattern chain (cost mode)")
	patternMaxAdjustment := flag.Float64("pattern-max-adjustment", 0.40, "Pattern chain attenuation cap (cost mode)")
	scenario := flag.String("scenario", "crash-loop", "Scenario to inject: crash-loop|oom-killed|node-pressure|high-cpu|high-memory|pod-restarts (inject mode)")
	pushgateway := flag.String("pushgateway", "http://127.0.0.1:9091", "Pushgateway endpoint (inject mode)")
	namespace := flag.String("namespace", "default", "Namespace for the injected sample (inject mode)")
	pod := flag.String("pod", "sim-pod-0", "Pod name for the injected sample (inject mode)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	switch *mode {
	case "cost":
		var chain *pattern.Chain
		if *patternEnabled {
			chain = pattern.NewDefaultChain(-*patternMaxAdjustment, zap.NewNop())
		}
		runCostSim(rng, *services, *days, *anomalyRate, chain)
	case "admission":
		runAdmissionSim(rng, *requests, *sources)
	case "inject":
		runInjectSim(*pushgateway, *scenario, *namespace, *pod)
	default:
		fmt.Fprintf(os.Stderr, "ERROR: unknown -mode %q (want cost|admission|inject)\n", *mode)
		os.Exit(1)
	}
}

// runCostSim generates synthetic ServiceCostSeries, injects ratio spikes
// into a fraction of them, runs the ensemble combiner, and prints a CSV
// of detection outcomes.
func runCostSim(rng *rand.Rand, numServices, days int, anomalyRate float64, chain *pattern.Chain) {
	combiner := anomaly.NewCombiner(chain)

	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"service", "injected_anomaly", "is_anomaly", "severity", "confidence", "raw_confidence"})

	detectedCount := 0
	injectedCount := 0

	for i := 0; i < numServices; i++ {
		name := fmt.Sprintf("service-%03d", i)
		injectSpike := rng.Float64() < anomalyRate
		series := syntheticSeries(rng, name, days, injectSpike)
		if injectSpike {
			injectedCount++
		}

		rec, err := combiner.Detect(series)
		if err != nil {
			fmt.Fprintf(os.Stderr, "detect %s: %v\n", name, err)
			continue
		}
		if rec.IsAnomaly {
			detectedCount++
		}

		_ = w.Write([]string{
			name,
			strconv.FormatBool(injectSpike),
			strconv.FormatBool(rec.IsAnomaly),
			rec.Severity.String(),
			strconv.FormatFloat(rec.Confidence, 'f', 4, 64),
			strconv.FormatFloat(rec.RawConfidence, 'f', 4, 64),
		})
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\n=== COST ANOMALY SIMULATION SUMMARY ===\n")
	fmt.Fprintf(os.Stderr, "Services:          %d\n", numServices)
	fmt.Fprintf(os.Stderr, "Injected spikes:   %d\n", injectedCount)
	fmt.Fprintf(os.Stderr, "Flagged anomalous: %d\n", detectedCount)
}

// syntheticSeries builds a roughly-flat cost history with gaussian noise,
// optionally ending in a 2-4x spike on the final day.
func syntheticSeries(rng *rand.Rand, name string, days int, injectSpike bool) domain.ServiceCostSeries {
	base := 100.0 + rng.Float64()*400.0
	now := time.Now().UTC()

	ts := make([]time.Time, days)
	costs := make([]float64, days)
	for d := 0; d < days; d++ {
		ts[d] = now.AddDate(0, 0, d-days+1)
		costs[d] = base * (1.0 + 0.05*rng.NormFloat64())
		if costs[d] < 0 {
			costs[d] = 0
		}
	}
	if injectSpike && days > 0 {
		costs[days-1] = base * (2.0 + rng.Float64()*2.0)
	}

	return domain.ServiceCostSeries{
		ServiceName: name,
		AccountID:   "sim-account",
		Timestamps:  ts,
		Costs:       costs,
	}
}

// runAdmissionSim drives synthetic acquire/release traffic against an
// in-memory registry and reports how often the controller allowed,
// downgraded, or made the caller wait.
func runAdmissionSim(rng *rand.Rand, numRequests, numSources int) {
	store := registry.NewMemStore()
	for s := 0; s < numSources; s++ {
		store.PutLimits(domain.ConnectionLimits{
			SrcDBID: s, Name: fmt.Sprintf("sim-%d", s), DBType: "oracle",
			MaxConnections: 100, ThresholdPercent: 90, DefaultParallel: 8, MinParallel: 2,
		})
	}
	controller := admission.New(store, zap.NewNop())

	var allowed, downgraded, waited int
	var heldRunIDs []string

	for i := 0; i < numRequests; i++ {
		srcDBID := rng.Intn(numSources)
		requestedParallel := 2 + rng.Intn(15)

		if len(heldRunIDs) > 0 && rng.Float64() < 0.3 {
			idx := rng.Intn(len(heldRunIDs))
			controller.Release(srcDBID, heldRunIDs[idx])
			heldRunIDs = append(heldRunIDs[:idx], heldRunIDs[idx+1:]...)
			continue
		}

		dagRunID := fmt.Sprintf("sim-run-%d", i)
		res, err := controller.CheckAdmission(admission.Request{
			SrcDBID: srcDBID, DAGID: "sim-dag", DAGRunID: dagRunID,
			TableName: "sim_table", RequestedParallel: requestedParallel,
		})
		if err != nil {
			continue
		}
		switch {
		case !res.Allowed:
			waited++
		case res.Downgraded:
			downgraded++
			heldRunIDs = append(heldRunIDs, dagRunID)
		default:
			allowed++
			heldRunIDs = append(heldRunIDs, dagRunID)
		}
	}

	fmt.Fprintf(os.Stderr, "\n=== ADMISSION TRAFFIC SIMULATION SUMMARY ===\n")
	fmt.Fprintf(os.Stderr, "Requests:    %d\n", numRequests)
	fmt.Fprintf(os.Stderr, "Allowed:     %d (%.1f%%)\n", allowed, pct(allowed, numRequests))
	fmt.Fprintf(os.Stderr, "Downgraded:  %d (%.1f%%)\n", downgraded, pct(downgraded, numRequests))
	fmt.Fprintf(os.Stderr, "Made wait:   %d (%.1f%%)\n", waited, pct(waited, numRequests))
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// runInjectSim pushes a single synthetic failure-scenario metric to a
// pushgateway via internal/injector, for exercising internal/timeseries's
// RemoteProvider and internal/health against a real Prometheus-compatible
// backend without a live cluster.
func runInjectSim(pushgatewayURL, scenario, namespace, pod string) {
	inj := injector.New(pushgatewayURL)
	ctx := context.Background()

	var err error
	switch scenario {
	case "crash-loop":
		err = inj.InjectCrashLoop(ctx, namespace, pod, "main", 12)
	case "oom-killed":
		err = inj.InjectOOMKilled(ctx, namespace, pod, "main", 3)
	case "node-pressure":
		err = inj.InjectNodePressure(ctx, "sim-node-0", "MemoryPressure", 100<<20, 4<<30)
	case "high-cpu":
		err = inj.InjectHighCPU(ctx, namespace, pod, "main", 0.97, 1.0)
	case "high-memory":
		err = inj.InjectHighMemory(ctx, namespace, pod, "main", 3.9, 4.0)
	case "pod-restarts":
		err = inj.InjectPodRestarts(ctx, namespace, pod, "main", 8)
	default:
		fmt.Fprintf(os.Stderr, "ERROR: unknown -scenario %q\n", scenario)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "inject %s: %v\n", scenario, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "injected %s for %s/%s against %s\n", scenario, namespace, pod, pushgatewayURL)
}
