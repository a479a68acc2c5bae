package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/school-notify/pkg/http"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemDispatch = "dispatch"
	SystemProvider = "provider"
	SystemLedger   = "ledger"
)

const (
	MetricJobsTotal            = "jobs_total"
	MetricMessagesTotal        = "messages_total"
	MetricSendDurationSeconds  = "send_duration_seconds"
	MetricDenialsTotal         = "denials_total"
	MetricRecipientsPerJob     = "recipients_per_job"
	MetricQueueConsumerBacklog = "queue_backlog"
)

const (
	TypeCounterVec   = "counterVec"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// Create registers every metric the dispatch core reports. Until it is
// called the Add* helpers are no-ops, which keeps tests free of global
// registry state.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(CreateMetric(TypeCounterVec, SystemDispatch, MetricJobsTotal, "channel", "state"))
	hasError(CreateMetric(TypeHistogramVec, SystemDispatch, MetricRecipientsPerJob, "channel"))
	hasError(CreateMetric(TypeGaugeVec, SystemDispatch, MetricQueueConsumerBacklog, "queue"))
	hasError(CreateMetric(TypeCounterVec, SystemProvider, MetricMessagesTotal, "channel", "provider", "status"))
	hasError(CreateMetric(TypeHistogramVec, SystemProvider, MetricSendDurationSeconds, "channel", "provider"))
	hasError(CreateMetric(TypeCounterVec, SystemLedger, MetricDenialsTotal, "channel", "reason"))

	if err == nil {
		MetricSystemEnabled = true
	}
	return err
}

func CreateMetric(metricType, metricSubsystem, metricName string, labels ...string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()

	key := metricSubsystem + metricName
	switch metricType {
	case TypeCounterVec:
		v := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   metricSubsystem,
			Name:        metricName,
			ConstLabels: defaultLabels,
		}, labels)
		MetricCollectionCounterVec[key] = v
		return prometheus.Register(v)
	case TypeHistogramVec:
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   metricSubsystem,
			Name:        metricName,
			ConstLabels: defaultLabels,
			Buckets:     prometheus.DefBuckets,
		}, labels)
		MetricCollectionHistogramVec[key] = v
		return prometheus.Register(v)
	case TypeGaugeVec:
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   metricSubsystem,
			Name:        metricName,
			ConstLabels: defaultLabels,
		}, labels)
		MetricCollectionGaugeVec[key] = v
		return prometheus.Register(v)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

func ListenAndServer(addr string, url string) {
	s := xhttp.CreateServer()
	s.GET(url, fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func IncJob(channel, state string) {
	AddCounterVec(SystemDispatch, MetricJobsTotal, 1, channel, state)
}

func ObserveRecipients(channel string, n int) {
	AddHistogramVec(SystemDispatch, MetricRecipientsPerJob, float64(n), channel)
}

func SetQueueBacklog(queue string, n int64) {
	SetGaugeVec(SystemDispatch, MetricQueueConsumerBacklog, float64(n), queue)
}

func IncMessage(channel, provider, status string) {
	AddCounterVec(SystemProvider, MetricMessagesTotal, 1, channel, provider, status)
}

func ObserveSendDuration(channel, provider string, seconds float64) {
	AddHistogramVec(SystemProvider, MetricSendDurationSeconds, seconds, channel, provider)
}

func IncDenial(channel, reason string) {
	AddCounterVec(SystemLedger, MetricDenialsTotal, 1, channel, reason)
}
