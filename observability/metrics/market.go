package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type MarketMetrics struct {
	listingsActive   prometheus.Gauge
	purchasesTotal   *prometheus.CounterVec
	settlementErrors *prometheus.CounterVec
	feesCollected    *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			listingsActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_listings_active",
				Help: "Number of currently active listings.",
			}),
			purchasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_purchases_total",
				Help: "Count of completed purchases by settlement kind.",
			}, []string{"currency"}),
			settlementErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_settlement_errors_total",
				Help: "Count of failed mutating operations by error class.",
			}, []string{"reason"}),
			feesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_fees_collected_total",
				Help: "Sum of platform fees collected by settlement kind.",
			}, []string{"currency"}),
		}
		prometheus.MustRegister(
			marketRegistry.listingsActive,
			marketRegistry.purchasesTotal,
			marketRegistry.settlementErrors,
			marketRegistry.feesCollected,
		)
	})
	return marketRegistry
}

// ListingOpened records a newly active listing.
func (m *MarketMetrics) ListingOpened() {
	if m == nil {
		return
	}
	m.listingsActive.Inc()
}

// ListingClosed records a listing leaving the active set, either by sale or
// cancellation.
func (m *MarketMetrics) ListingClosed() {
	if m == nil {
		return
	}
	m.listingsActive.Dec()
}

// PurchaseCompleted records a settled purchase and the fee it produced.
func (m *MarketMetrics) PurchaseCompleted(currency string, fee float64) {
	if m == nil {
		return
	}
	m.purchasesTotal.WithLabelValues(currency).Inc()
	if fee > 0 {
		m.feesCollected.WithLabelValues(currency).Add(fee)
	}
}

// OperationFailed records a failed mutating operation.
func (m *MarketMetrics) OperationFailed(reason string) {
	if m == nil {
		return
	}
	m.settlementErrors.WithLabelValues(reason).Inc()
}
