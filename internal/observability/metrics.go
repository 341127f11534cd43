package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PlayersOnline tracks connected player sessions across all rooms.
	PlayersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabletop",
		Name:      "players_online",
		Help:      "Current number of connected player sessions",
	})

	// RoomsOpen tracks rooms with at least one connected player.
	RoomsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabletop",
		Name:      "rooms_open",
		Help:      "Current number of rooms with at least one player",
	})

	// DiceRolls counts persisted dice rolls by side count.
	DiceRolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletop",
		Name:      "dice_rolls_total",
		Help:      "Total dice rolls, labelled by die",
	}, []string{"sides"})

	// BroadcastFailures counts sends dropped during broadcast fan-out.
	// Each failure forces a disconnect of the affected session.
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tabletop",
		Name:      "broadcast_failures_total",
		Help:      "Total failed broadcast sends",
	})
)

// MetricsHandler exposes the default Prometheus metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
