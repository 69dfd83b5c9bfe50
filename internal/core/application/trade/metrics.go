package trade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tradesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "escrow",
		Name:      "trades",
		Help:      "Number of trades per collection.",
	}, []string{"collection"})

	messagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "protocol_messages_total",
		Help:      "Inbound protocol messages by type and outcome.",
	}, []string{"type", "outcome"})

	validationFailuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "validation_failures_total",
		Help:      "Rejected counterparty transactions by failure class.",
	}, []string{"class"})

	broadcastsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "broadcasts_total",
		Help:      "Broadcast txs by kind and outcome.",
	}, []string{"kind", "outcome"})
)
