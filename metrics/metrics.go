package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OccupancyReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_occupancy_reports_total",
		Help: "Sensor occupancy reports, labelled by outcome (changed, no_change).",
	}, []string{"outcome"})

	SessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_sessions_opened_total",
		Help: "Sessions created, labelled by source (sensor, plate).",
	}, []string{"source"})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_sessions_closed_total",
		Help: "Sessions ended, labelled by source (sensor, manual).",
	}, []string{"source"})

	ReconcileAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_reconcile_anomalies_total",
		Help: "Slot transitions whose session side had nothing to do, labelled by kind.",
	}, []string{"kind"})

	AdmissionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_admissions_rejected_total",
		Help: "Plate entries rejected because the lot was full.",
	})

	Payments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_payments_total",
		Help: "Sessions paid.",
	})

	Revenue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_revenue_total",
		Help: "Sum of amounts paid, in lot currency.",
	})

	SlotsOccupied = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parking_slots_occupied",
		Help: "Number of slots currently reported occupied.",
	})

	StaleSensors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parking_stale_sensors",
		Help: "Slots whose sensor has not reported within the watchdog silence window.",
	})
)

// Anomaly kinds.
const (
	AnomalySessionAlreadyOpen = "session_already_open"
	AnomalyNoOpenSession      = "no_open_session"
)
