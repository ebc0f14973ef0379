// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordCommentCreated()
	RecordCommentDeleted()
	RecordReplyAdded()
	RecordLikeToggled(liked bool)
	RecordLogin(success bool)
	RecordHTTPStatus(statusCode int)
	RecordRequestDuration(method, route string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commentsCreated prometheus.Counter
	commentsDeleted prometheus.Counter
	repliesAdded    prometheus.Counter
	likeToggles     *prometheus.CounterVec
	logins          *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commentboard_comments_created_total",
			Help: "投稿されたコメントの合計数",
		}),
		commentsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commentboard_comments_deleted_total",
			Help: "削除されたコメントの合計数",
		}),
		repliesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commentboard_replies_added_total",
			Help: "追加された返信の合計数",
		}),
		likeToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commentboard_like_toggles_total",
			Help: "いいねトグルの合計数（action=like|unlike）",
		}, []string{"action"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commentboard_logins_total",
			Help: "ログイン試行の合計数（result=success|failure）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commentboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "commentboard_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.commentsCreated,
		c.commentsDeleted,
		c.repliesAdded,
		c.likeToggles,
		c.logins,
		c.httpStatus,
		c.requestDuration,
	)

	return c
}

// RecordCommentCreated はコメント投稿を記録する。
func (c *Collector) RecordCommentCreated() {
	c.commentsCreated.Inc()
}

// RecordCommentDeleted はコメント削除を記録する。
func (c *Collector) RecordCommentDeleted() {
	c.commentsDeleted.Inc()
}

// RecordReplyAdded は返信追加を記録する。
func (c *Collector) RecordReplyAdded() {
	c.repliesAdded.Inc()
}

// RecordLikeToggled はいいねトグルを記録する。
func (c *Collector) RecordLikeToggled(liked bool) {
	action := "unlike"
	if liked {
		action = "like"
	}
	c.likeToggles.WithLabelValues(action).Inc()
}

// RecordLogin はログインの成否を記録する。
func (c *Collector) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration はルートごとのリクエスト処理時間を記録する。
func (c *Collector) RecordRequestDuration(method, route string, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware はレスポンスのステータスコードと処理時間を記録するミドルウェアを返す。
// ラベルのカーディナリティを抑えるため、パスではなくchiのルートパターンを使う。
func Middleware(mc MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			mc.RecordHTTPStatus(sw.status)
			mc.RecordRequestDuration(r.Method, routePattern(r), time.Since(start))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
