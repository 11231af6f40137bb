package metrics

import "github.com/prometheus/client_golang/prometheus"

// InventoryMetrics tracks stock movements and rejected reservations.
type InventoryMetrics struct {
	movements    *prometheus.CounterVec
	insufficient prometheus.Counter
}

// NewInventoryMetrics registers inventory counters on reg.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_movements_total",
		Help: "Inventory ledger entries written, by reason code.",
	}, []string{"reason"})
	insufficient := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_insufficient_stock_total",
		Help: "Reservations rejected because available stock was too low.",
	})
	reg.MustRegister(movements, insufficient)
	return &InventoryMetrics{movements: movements, insufficient: insufficient}
}

// IncMovement counts one ledger entry.
func (m *InventoryMetrics) IncMovement(reason string) {
	if m == nil || m.movements == nil {
		return
	}
	m.movements.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncInsufficientStock counts one rejected reservation.
func (m *InventoryMetrics) IncInsufficientStock() {
	if m == nil || m.insufficient == nil {
		return
	}
	m.insufficient.Inc()
}
