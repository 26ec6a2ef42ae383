// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/hitoshi/appauth/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サインインフロー、ストア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignIn(provider model.Provider, result model.AuthResult)
	RecordSignOut(result model.AuthResult)
	RecordSessionEvent(event string)
	RecordRefresh(success bool, duration time.Duration)
	RecordRateLimited()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn         *prometheus.CounterVec
	signOut        *prometheus.CounterVec
	sessionEvents  *prometheus.CounterVec
	refresh        *prometheus.CounterVec
	refreshLatency prometheus.Histogram
	rateLimited    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appauth_signin_total",
			Help: "プロバイダー・結果別のサインイン試行数",
		}, []string{"provider", "outcome"}),
		signOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appauth_signout_total",
			Help: "結果別のサインアウト数",
		}, []string{"outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appauth_session_events_total",
			Help: "種別ごとのセッション変更通知数",
		}, []string{"event"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appauth_token_refresh_total",
			Help: "結果別の自動トークンリフレッシュ数",
		}, []string{"outcome"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "appauth_token_refresh_latency_seconds",
			Help:    "自動トークンリフレッシュのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appauth_signin_rate_limited_total",
			Help: "レート制限で拒否されたサインイン要求の合計数",
		}),
	}

	reg.MustRegister(
		c.signIn,
		c.signOut,
		c.sessionEvents,
		c.refresh,
		c.refreshLatency,
		c.rateLimited,
	)

	return c
}

// RecordSignIn はサインインの結果を記録する。
func (c *Collector) RecordSignIn(provider model.Provider, result model.AuthResult) {
	c.signIn.WithLabelValues(string(provider), result.Outcome()).Inc()
}

// RecordSignOut はサインアウトの結果を記録する。
func (c *Collector) RecordSignOut(result model.AuthResult) {
	c.signOut.WithLabelValues(result.Outcome()).Inc()
}

// RecordSessionEvent はセッション変更通知を記録する。
func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordRefresh は自動リフレッシュの結果とレイテンシを記録する。
func (c *Collector) RecordRefresh(success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.refresh.WithLabelValues(outcome).Inc()
	c.refreshLatency.Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
