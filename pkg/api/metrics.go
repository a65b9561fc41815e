package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opCreate  = "create"
	opGet     = "get"
	opReplace = "replace"
	opPatch   = "patch"
	opDelete  = "delete"
)

const (
	outcomeOK          = "ok"
	outcomeNoChange    = "no_change"
	outcomeInvalid     = "invalid"
	outcomeNotFound    = "not_found"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

var (
	requestMessageOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimasaka_request_message_operations_total",
		Help: "Request message operations by outcome",
	}, []string{"operation", "outcome"})
)

func observe(op, outcome string) {
	requestMessageOps.WithLabelValues(op, outcome).Inc()
}
