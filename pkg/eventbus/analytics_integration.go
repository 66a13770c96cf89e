package eventbus

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AnalyticsIntegration tracks token usage and cost across a mission, exposing
// them as Prometheus counters/gauges. It runs at CRITICAL priority so the
// counters reflect every response before any other integration observes it.
type AnalyticsIntegration struct {
	BaseHandler

	CostPerInputToken  float64
	CostPerOutputToken float64

	mu                sync.Mutex
	totalInputTokens  int64
	totalOutputTokens int64
	totalCost         float64
	cycleCosts        []CycleCost

	inputTokensCounter  prometheus.Counter
	outputTokensCounter prometheus.Counter
	costGauge           prometheus.Gauge
}

// CycleCost records the cumulative cost/token usage observed through the end
// of a given cycle.
type CycleCost struct {
	Cycle        int
	Cost         float64
	InputTokens  int64
	OutputTokens int64
}

// NewAnalyticsIntegration registers its metrics against reg (pass
// prometheus.DefaultRegisterer for the global registry).
func NewAnalyticsIntegration(reg prometheus.Registerer, costPerInputToken, costPerOutputToken float64) *AnalyticsIntegration {
	a := &AnalyticsIntegration{
		CostPerInputToken:  costPerInputToken,
		CostPerOutputToken: costPerOutputToken,
		inputTokensCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionctl_input_tokens_total",
			Help: "Total input tokens consumed across all missions.",
		}),
		outputTokensCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionctl_output_tokens_total",
			Help: "Total output tokens produced across all missions.",
		}),
		costGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "missionctl_mission_cost_usd",
			Help: "Running cost in USD of the current mission.",
		}),
	}
	if reg != nil {
		reg.MustRegister(a.inputTokensCounter, a.outputTokensCounter, a.costGauge)
	}
	a.InitBase("analytics", PriorityCritical, []EventType{
		ResponseReceived, MissionStarted, MissionCompleted, CycleCompleted,
	}, nil)
	return a
}

func (a *AnalyticsIntegration) HandleEvent(event Event) error {
	switch event.Type {
	case MissionStarted:
		a.mu.Lock()
		a.totalInputTokens, a.totalOutputTokens, a.totalCost = 0, 0, 0
		a.cycleCosts = nil
		a.mu.Unlock()
	case ResponseReceived:
		a.trackResponse(event)
	case CycleCompleted:
		cycle, ok := event.Data["cycle"].(int)
		if !ok {
			cycle, _ = event.Data["current_cycle"].(int)
		}
		a.mu.Lock()
		a.cycleCosts = append(a.cycleCosts, CycleCost{
			Cycle:        cycle,
			Cost:         a.totalCost,
			InputTokens:  a.totalInputTokens,
			OutputTokens: a.totalOutputTokens,
		})
		a.mu.Unlock()
	case MissionCompleted:
		a.mu.Lock()
		in, out, cost := a.totalInputTokens, a.totalOutputTokens, a.totalCost
		a.mu.Unlock()
		slog.Info("mission complete", "mission_id", event.MissionID, "input_tokens", in, "output_tokens", out, "cost_usd", cost)
	}
	return nil
}

func (a *AnalyticsIntegration) trackResponse(event Event) {
	inputTokens := asInt64(event.Data["input_tokens"])
	outputTokens := asInt64(event.Data["output_tokens"])
	cost := float64(inputTokens)*a.CostPerInputToken + float64(outputTokens)*a.CostPerOutputToken

	a.mu.Lock()
	a.totalInputTokens += inputTokens
	a.totalOutputTokens += outputTokens
	a.totalCost += cost
	a.mu.Unlock()

	a.inputTokensCounter.Add(float64(inputTokens))
	a.outputTokensCounter.Add(float64(outputTokens))
	a.costGauge.Set(a.totalCost)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// CurrentStats returns a snapshot of usage/cost counters.
func (a *AnalyticsIntegration) CurrentStats() (inputTokens, outputTokens int64, cost float64, cycles []CycleCost) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalInputTokens, a.totalOutputTokens, a.totalCost, append([]CycleCost(nil), a.cycleCosts...)
}

var _ Handler = (*AnalyticsIntegration)(nil)
