// Package metrics defines the Prometheus collectors exposed at /metrics.
// All collectors are registered with the default registry via promauto so
// components can write to them without plumbing a registry around.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chain monitor collectors, labeled by chain
var (
	// ChainConnectedGauge is 1 while the monitor holds a live connection
	ChainConnectedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_chain_connected",
		Help: "Whether the chain monitor connection is up (1) or down (0)",
	}, []string{"chain"})

	// ChainHeadGauge tracks the last processed height/ledger/slot per chain
	ChainHeadGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_chain_last_height",
		Help: "Last processed block height per chain",
	}, []string{"chain"})

	// DepositsSeenTotal counts first sightings of qualifying transfers
	DepositsSeenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_deposits_seen_total",
		Help: "Deposits observed per chain, before confirmation",
	}, []string{"chain"})

	// DepositsConfirmedTotal counts deposits that met the confirmation depth
	DepositsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_deposits_confirmed_total",
		Help: "Deposits confirmed per chain",
	}, []string{"chain"})

	// DepositsDroppedTotal counts observations dropped before emission,
	// labeled by reason (malformed_recipient, below_minimum, above_maximum,
	// duplicate)
	DepositsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_deposits_dropped_total",
		Help: "Observations dropped before emission, by reason",
	}, []string{"chain", "reason"})

	// MonitorReconnectsTotal counts reconnection attempts per chain
	MonitorReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_monitor_reconnects_total",
		Help: "Monitor reconnection attempts per chain",
	}, []string{"chain"})

	// MonitorFatalTotal counts fatal monitor errors after exhausted reconnects
	MonitorFatalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_monitor_fatal_total",
		Help: "Fatal monitor errors per chain",
	}, []string{"chain"})
)

// Attestation aggregator collectors
var (
	// SignaturesAcceptedTotal counts verified signatures, labeled by attester
	SignaturesAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_signatures_accepted_total",
		Help: "Attester signatures accepted after verification",
	}, []string{"attester"})

	// SignaturesRejectedTotal counts rejected submissions by reason
	// (invalid_signature, unknown_attester, terminal_state)
	SignaturesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_signatures_rejected_total",
		Help: "Attester signature submissions rejected, by reason",
	}, []string{"reason"})

	// SignaturesDuplicateTotal counts idempotent duplicate submissions
	SignaturesDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_signatures_duplicate_total",
		Help: "Duplicate attester signature submissions treated as no-ops",
	})

	// AttestationsReadyTotal counts threshold promotions
	AttestationsReadyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_attestations_ready_total",
		Help: "Attestations promoted to ready on reaching the signature threshold",
	})

	// AttestationsExpiredTotal counts expiry transitions
	AttestationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_attestations_expired_total",
		Help: "Attestations expired before reaching the signature threshold",
	})

	// AttestationsPendingGauge tracks attestations below threshold
	AttestationsPendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_attestations_pending",
		Help: "Attestations currently below the signature threshold",
	})
)

// Relay submitter collectors, labeled by destination domain
var (
	// RelaysSubmittedTotal counts dispatch attempts
	RelaysSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_relays_submitted_total",
		Help: "Relay submissions dispatched per destination domain",
	}, []string{"domain"})

	// RelaysFinalizedTotal counts successful relays, including already-relayed races
	RelaysFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_relays_finalized_total",
		Help: "Relays finalized per destination domain",
	}, []string{"domain"})

	// RelaysFailedTotal counts terminal relay failures by reason
	// (deterministic, retries_exhausted)
	RelaysFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_relays_failed_total",
		Help: "Relays terminally failed per destination domain, by reason",
	}, []string{"domain", "reason"})

	// RelayAttempts observes attempts needed per finalized relay
	RelayAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_relay_attempts",
		Help:    "Submission attempts per relay job",
		Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
	}, []string{"domain"})

	// RelayDuration observes end-to-end submission latency
	RelayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_relay_duration_seconds",
		Help:    "Time from dispatch to destination finality",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"domain"})

	// DestinationNonceGauge tracks the last allocated nonce per account
	DestinationNonceGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_destination_nonce",
		Help: "Last allocated destination nonce per relayer account",
	}, []string{"domain", "account"})
)

// HTTP and infrastructure collectors
var (
	// HTTPRequestsTotal counts API requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_http_requests_total",
		Help: "HTTP requests processed, by method, path, and status code",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes API latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// DatabaseConnectionsGauge tracks sql pool state (open, idle, in_use)
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_database_connections",
		Help: "Database connection pool state",
	}, []string{"state"})

	// EventsPublishedTotal counts records published to the event stream
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_events_published_total",
		Help: "Event records published to the stream, by topic and result",
	}, []string{"topic", "result"})
)
