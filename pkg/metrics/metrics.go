package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// LLM 调用延迟（毫秒），status: ok / error / empty / circuit_open
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "Ollama generate call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 14), // 100ms to ~13min
		},
		[]string{"model", "status"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 同步耗时（秒），trigger: manual / scheduled / historical
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Mailbox sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"trigger", "status"},
	)

	// 分拣结果计数，route: task / approval / snippet / discarded_*
	TriageRouteCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_route_count",
			Help: "Total number of messages per triage outcome",
		},
		[]string{"route"},
	)

	// 任务生成计数
	TaskGenerationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_generation_count",
			Help: "Total number of tasks generated",
		},
		[]string{"source"}, // source: email, approval_fallback
	)

	AutoCompletionCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_auto_completion_count",
			Help: "Tasks closed by the sent-items completion scan",
		},
	)

	ApprovalDecisionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_decision_count",
			Help: "Human approval decisions by action and outcome",
		},
		[]string{"action", "status"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"command"},
	)

	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Outbox events published to the broker",
		},
		[]string{"routing_key", "status"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordLLMCallLatency 记录 LLM 调用延迟
func RecordLLMCallLatency(model, status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(model, status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordSyncRun(trigger, status string, duration time.Duration) {
	SyncRunDuration.WithLabelValues(trigger, status).Observe(duration.Seconds())
}

func IncrementTriageRoute(route string) {
	TriageRouteCount.WithLabelValues(route).Inc()
}

// IncrementTaskGeneration 增加任务生成计数
func IncrementTaskGeneration(source string) {
	TaskGenerationCount.WithLabelValues(source).Inc()
}

func IncrementAutoCompletion(n int) {
	AutoCompletionCount.Add(float64(n))
}

func IncrementApprovalDecision(action, status string) {
	ApprovalDecisionCount.WithLabelValues(action, status).Inc()
}

func IncrementSlowQuery(command string) {
	SlowQueryCount.WithLabelValues(command).Inc()
}

func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

func SetCircuitState(name string, state int) {
	CircuitState.WithLabelValues(name).Set(float64(state))
}
