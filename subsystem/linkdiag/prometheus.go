package linkdiag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats adapts a LinkDiag's Statistics snapshot into a
// prometheus.Collector, for ground stations that already run a
// /metrics endpoint for their own telemetry and want per-drone radio
// quality alongside it. It is collected lazily, on every Gather, the
// same way the teacher's stats package exposes live counters rather
// than pushing updates: see ProbeMetricVecs in
// multicluster/service-mirror/metrics.go for the model of one
// collector per live peer, labeled on registration.
type PrometheusStats struct {
	ld *LinkDiag

	linkQuality *prometheus.Desc
	packetsSent *prometheus.Desc
	packetsRecv *prometheus.Desc
	retries     *prometheus.Desc
	rssi        *prometheus.Desc
	supported   *prometheus.Desc
}

// NewPrometheusStats wraps ld. label identifies the drone (e.g. its
// URI) in every exported series.
func NewPrometheusStats(ld *LinkDiag, label string) *PrometheusStats {
	constLabels := prometheus.Labels{"crazyflie": label}
	return &PrometheusStats{
		ld: ld,
		linkQuality: prometheus.NewDesc(
			"crazyflie_link_quality", "Radio link quality, 0-1.", nil, constLabels),
		packetsSent: prometheus.NewDesc(
			"crazyflie_link_packets_sent_total", "Packets sent over the link.", nil, constLabels),
		packetsRecv: prometheus.NewDesc(
			"crazyflie_link_packets_received_total", "Packets received over the link.", nil, constLabels),
		retries: prometheus.NewDesc(
			"crazyflie_link_retries_total", "Retransmission count reported by the link.", nil, constLabels),
		rssi: prometheus.NewDesc(
			"crazyflie_link_rssi_dbm", "Received signal strength in dBm.", nil, constLabels),
		supported: prometheus.NewDesc(
			"crazyflie_link_stats_supported", "1 if the underlying link reports statistics, 0 otherwise.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusStats) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.linkQuality
	ch <- p.packetsSent
	ch <- p.packetsRecv
	ch <- p.retries
	ch <- p.rssi
	ch <- p.supported
}

// Collect implements prometheus.Collector. Metrics backed by a nil
// field (the link doesn't support statistics) are omitted rather than
// reported as zero, so an unsupported link doesn't masquerade as an
// idle one.
func (p *PrometheusStats) Collect(ch chan<- prometheus.Metric) {
	s := p.ld.Statistics()

	supportedVal := 0.0
	if s.Supported {
		supportedVal = 1.0
	}
	ch <- prometheus.MustNewConstMetric(p.supported, prometheus.GaugeValue, supportedVal)

	if !s.Supported {
		return
	}
	if s.LinkQuality != nil {
		ch <- prometheus.MustNewConstMetric(p.linkQuality, prometheus.GaugeValue, *s.LinkQuality)
	}
	if s.PacketsSent != nil {
		ch <- prometheus.MustNewConstMetric(p.packetsSent, prometheus.CounterValue, float64(*s.PacketsSent))
	}
	if s.PacketsRecv != nil {
		ch <- prometheus.MustNewConstMetric(p.packetsRecv, prometheus.CounterValue, float64(*s.PacketsRecv))
	}
	if s.Retries != nil {
		ch <- prometheus.MustNewConstMetric(p.retries, prometheus.CounterValue, float64(*s.Retries))
	}
	if s.RSSI != nil {
		ch <- prometheus.MustNewConstMetric(p.rssi, prometheus.GaugeValue, float64(*s.RSSI))
	}
}
