package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SummaryBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "summary_build_seconds",
		Help:    "Время построения и публикации сводки",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
	})

	SummaryRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_runs_total",
		Help: "Прогоны конвейера сводки по источнику и результату",
	}, []string{"trigger", "outcome"})

	SummaryMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "summary_messages",
		Help: "Число сообщений в последнем окне",
	})

	SummaryOmittedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "summary_omitted_messages",
		Help: "Число старых сообщений, отброшенных из-за лимита токенов в последнем прогоне",
	})

	RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Повторы запросов после временных ошибок",
	}, []string{"component", "reason"})

	TranslationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translations_total",
		Help: "Переводы сообщений по статусу",
	}, []string{"status"})

	SchedulerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_state",
		Help: "Состояние планировщика: 0 waiting, 1 running, 2 cooldown",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SummaryBuildSeconds,
		SummaryRunsTotal,
		SummaryMessages,
		SummaryOmittedMessages,
		RetryAttemptsTotal,
		TranslationsTotal,
		SchedulerState,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if total := promptTokens + completionTokens; total > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(total))
	}
}

// ObserveRun фиксирует итог прогона.
func ObserveRun(trigger, outcome string, start time.Time) {
	SummaryRunsTotal.WithLabelValues(trigger, outcome).Inc()
	SummaryBuildSeconds.Observe(time.Since(start).Seconds())
}

// IncRetry увеличивает счётчик повторов.
func IncRetry(component, reason string) {
	RetryAttemptsTotal.WithLabelValues(component, reason).Inc()
}

// IncTranslation увеличивает счётчик переводов.
func IncTranslation(status string) {
	TranslationsTotal.WithLabelValues(status).Inc()
}
