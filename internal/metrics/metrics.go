package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	AcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojson_acquire_total",
		Help: "Remote acquisitions by kind and result (ok, not_modified, error)",
	}, []string{"kind", "result"})
	AcquireBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojson_acquire_bytes_total",
		Help: "Bytes written into the local cache by kind",
	}, []string{"kind"})
	DecodeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojson_decode_total",
		Help: "Geometry archive conversions by level and result",
	}, []string{"level", "result"})
	DecodeDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geojson_decode_duration_ms",
		Help:    "Geometry archive decode+write duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	}, []string{"level"})
	PartitionFeaturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojson_partition_features_total",
		Help: "Streamed features by pass and result (matched, dropped)",
	}, []string{"pass", "result"})
	PartitionFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojson_partition_files_total",
		Help: "Per-region files written by pass",
	}, []string{"pass"})
	PartitionSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojson_partition_skipped_total",
		Help: "Region buckets not emitted by pass",
	}, []string{"pass"})
	MapRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojson_map_requests_total",
		Help: "Map name resolutions by result (found, missing)",
	}, []string{"result"})
	LocateRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geojson_locate_requests_total",
		Help: "Total point-to-region lookups",
	})
	LocateDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geojson_locate_duration_ms",
		Help:    "Point-to-region lookup duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
)

func init() {
	prometheus.MustRegister(AcquireTotal)
	prometheus.MustRegister(AcquireBytesTotal)
	prometheus.MustRegister(DecodeTotal)
	prometheus.MustRegister(DecodeDurationMs)
	prometheus.MustRegister(PartitionFeaturesTotal)
	prometheus.MustRegister(PartitionFilesTotal)
	prometheus.MustRegister(PartitionSkippedTotal)
	prometheus.MustRegister(MapRequestsTotal)
	prometheus.MustRegister(LocateRequestsTotal)
	prometheus.MustRegister(LocateDurationMs)
}

// 文档注释：返回 Prometheus 指标监听器，由地图服务挂载到 {API_BASE}/metrics
func Handler() http.Handler { return promhttp.Handler() }

// 文档注释：导出一次构建的指标
// 背景：构建脚本是短进程，无法被抓取；通过 textfile（node_exporter 收集）或 Pushgateway 上报。
// 约束：path 与 pushURL 均为空时不做任何事；两者都配置时都会执行，返回第一个错误。
func Export(path, pushURL, job string) error {
	var first error
	if path != "" {
		if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
			first = err
		}
	}
	if pushURL != "" {
		err := push.New(pushURL, job).Gatherer(prometheus.DefaultGatherer).Push()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
