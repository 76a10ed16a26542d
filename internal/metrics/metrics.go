// Package metrics 汇总 prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveryAttempts 投递尝试数，outcome 为 ok / fail
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftbottle_delivery_attempts_total",
		Help: "Delivery attempts by outcome.",
	}, []string{"outcome"})

	// DeliveryExhausted 重试预算耗尽的投递数
	DeliveryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftbottle_delivery_exhausted_total",
		Help: "Deliveries that exhausted the retry budget.",
	})

	// BroadcastCountdown 广播倒计时剩余秒数
	BroadcastCountdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftbottle_broadcast_countdown_seconds",
		Help: "Seconds remaining until the next unattended broadcast.",
	})

	// BroadcastDispatches 广播派发轮次数
	BroadcastDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftbottle_broadcast_dispatch_total",
		Help: "Completed broadcast dispatch rounds.",
	})

	// AssetFetches 资产抓取数，outcome 为 ok / fail
	AssetFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftbottle_asset_fetches_total",
		Help: "Asset fetches by outcome.",
	}, []string{"outcome"})
)
