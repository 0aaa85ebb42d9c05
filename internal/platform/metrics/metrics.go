// Package metrics holds the process's prometheus collectors. Every method is
// safe on a nil *Registry so components can run without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg            *prometheus.Registry
	tasks          *prometheus.CounterVec
	privacyScore   prometheus.Gauge
	anyoneConnects *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phenix",
			Name:      "tasks_total",
			Help:      "Best-effort background tasks by name and result.",
		}, []string{"task", "result"}),
		privacyScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenix",
			Name:      "privacy_overall_score",
			Help:      "Most recently computed overall privacy score.",
		}),
		anyoneConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phenix",
			Name:      "anyone_connect_total",
			Help:      "Anonymizing network connect attempts by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phenix",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route template and status code.",
		}, []string{"route", "code"}),
	}
	r.reg.MustRegister(
		r.tasks,
		r.privacyScore,
		r.anyoneConnects,
		r.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) TaskResult(task, result string) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(task, result).Inc()
}

func (r *Registry) PrivacyScore(score int) {
	if r == nil {
		return
	}
	r.privacyScore.Set(float64(score))
}

func (r *Registry) AnyoneConnect(result string) {
	if r == nil {
		return
	}
	r.anyoneConnects.WithLabelValues(result).Inc()
}

func (r *Registry) HTTPRequest(route string, code int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}
