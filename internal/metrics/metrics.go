// Package metrics holds the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_holds_created_total",
		Help: "Holds successfully created.",
	})

	HoldsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_holds_released_total",
		Help: "Holds released, by reason.",
	}, []string{"reason"})

	Purchases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_purchases_total",
		Help: "Holds converted to purchases.",
	})

	ReservationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_reservation_conflicts_total",
		Help: "Reservation attempts rejected because numbers were taken.",
	})

	LuckyDipRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_lucky_dip_retries_total",
		Help: "Lucky dip draws retried after a stale snapshot.",
	})

	CompetitionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_competitions_open",
		Help: "Competitions currently open for sale.",
	})
)

const (
	ReasonCancel    = "cancel"
	ReasonExpired   = "expired"
	ReasonConverted = "converted"
)
