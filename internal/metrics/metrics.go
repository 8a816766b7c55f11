// Package metrics declares the Prometheus collectors of the dispenser.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generations counts credentials handed out, by service.
var Generations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dispenser",
	Subsystem: "stock",
	Name:      "generations_total",
	Help:      "Total credentials handed out.",
}, []string{"service"})

// OutOfStock counts generation attempts against an empty or unknown pool.
var OutOfStock = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dispenser",
	Subsystem: "stock",
	Name:      "out_of_stock_total",
	Help:      "Total generation attempts that found no available line.",
}, []string{"service"})

// Undelivered counts lines that left the pool without being recorded or released.
var Undelivered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dispenser",
	Subsystem: "stock",
	Name:      "undelivered_total",
	Help:      "Lines consumed but neither recorded nor returned to the pool.",
})

// ReservationsSwept counts stale reservations resolved by the sweeper, by action.
var ReservationsSwept = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dispenser",
	Subsystem: "stock",
	Name:      "reservations_swept_total",
	Help:      "Stale reservations resolved by the sweeper.",
}, []string{"action"})

// Notifications counts processed IPN notifications, by outcome.
var Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dispenser",
	Subsystem: "payments",
	Name:      "notifications_total",
	Help:      "Processed payment notifications by outcome.",
}, []string{"outcome"})

// OrdersRegistered counts order registrations, by whether a row was created.
var OrdersRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dispenser",
	Subsystem: "payments",
	Name:      "orders_registered_total",
	Help:      "Order registrations by result.",
}, []string{"created"})

// GatewayRequests counts checkout provider calls, by operation and result.
var GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dispenser",
	Subsystem: "payments",
	Name:      "gateway_requests_total",
	Help:      "Checkout provider calls by operation and result.",
}, []string{"op", "result"})
