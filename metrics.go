package filo

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricConnInBytes represents how much bytes have been received
	// across all connections.
	MetricConnInBytes       = []string{"filo", "conn", "in", "bytes"}
	MetricConnInErrorCount  = []string{"filo", "conn", "in", "error", "count"}
	MetricConnOutBytes      = []string{"filo", "conn", "out", "bytes"}
	MetricConnOutErrorCount = []string{"filo", "conn", "out", "error", "count"}
	MetricConnEstCount      = []string{"filo", "conn", "established", "count"}
	MetricConnClosedCount   = []string{"filo", "conn", "closed", "count"}
	MetricMsgInCount        = []string{"filo", "msg", "in", "count"}
	MetricAcceptErrorCount  = []string{"filo", "accept", "error", "count"}
	MetricDialErrorCount    = []string{"filo", "dial", "error", "count"}
	MetricBroadcastCount    = []string{"filo", "broadcast", "count"}
	MetricBroadcastErrCount = []string{"filo", "broadcast", "error", "count"}
	MetricStreamDropCount   = []string{"filo", "stream", "dropped", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelConnID    TelemetryLabel = "conn_id"
	LabelLocalAddr TelemetryLabel = "local_addr"
	LabelPeerAddr  TelemetryLabel = "peer_addr"
	LabelEndpoint  TelemetryLabel = "endpoint"
	LabelClosedBy  TelemetryLabel = "closed_by"
	LabelDuration  TelemetryLabel = "duration"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
