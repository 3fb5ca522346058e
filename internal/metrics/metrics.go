// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCalls counts client calls by operation and outcome kind.
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_rpc_client_calls_total",
		Help: "RPC calls issued by the gateway, by operation and outcome.",
	}, []string{"op", "outcome"})

	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_rpc_client_duration_seconds",
		Help:    "Round-trip latency of RPC calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// RPCHandled counts requests served by the RPC server.
	RPCHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_rpc_server_requests_total",
		Help: "RPC requests handled by the service, by operation and status code.",
	}, []string{"op", "status"})

	RPCExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_rpc_server_expired_total",
		Help: "RPC requests dropped because their deadline passed before a worker picked them up.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_transitions_total",
		Help: "Check-in and check-out attempts by result.",
	}, []string{"op", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_http_requests_total",
		Help: "Gateway HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_http_request_duration_seconds",
		Help:    "Gateway HTTP latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})
)
