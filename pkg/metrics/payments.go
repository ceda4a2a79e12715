package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics counts checkout and payment reconciliation activity.
type PaymentMetrics struct {
	ordersCreated *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	confirmations *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	ordersCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "orders_created_total",
		Help:      "Orders created by payment method.",
	}, []string{"payment_method"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "webhooks_total",
		Help:      "Payment notifications by outcome.",
	}, []string{"outcome"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "orders_paid_total",
		Help:      "Orders marked paid by source.",
	}, []string{"source"})
	reg.MustRegister(ordersCreated, webhooks, confirmations)
	return &PaymentMetrics{ordersCreated: ordersCreated, webhooks: webhooks, confirmations: confirmations}
}

func (m *PaymentMetrics) OrderCreated(paymentMethod string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.WithLabelValues(normalizeLabel(paymentMethod)).Inc()
}

func (m *PaymentMetrics) WebhookProcessed(outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) PaymentConfirmed(source string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.WithLabelValues(normalizeLabel(source)).Inc()
}
