package toll

import (
	"sync"
	"time"
)

// defaultMaxRecent bounds the recent-payments ring.
const defaultMaxRecent = 100

// PaymentRecord is one paid request, kept for reporting.
type PaymentRecord struct {
	Endpoint    string `json:"endpoint"`
	AmountSats  int64  `json:"amountSats"`
	PayerID     string `json:"payerId"`
	PaymentHash string `json:"paymentHash,omitempty"`
	// Timestamp is milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`
}

// EndpointStats is the per-endpoint breakdown.
type EndpointStats struct {
	Revenue  int64 `json:"revenue"`
	Requests int64 `json:"requests"`
	Paid     int64 `json:"paid"`
	Free     int64 `json:"free"`
}

// StatsSnapshot is a JSON-ready view of the counters, suitable for a
// dashboard route.
type StatsSnapshot struct {
	TotalRevenue   int64                    `json:"totalRevenue"`
	TotalRequests  int64                    `json:"totalRequests"`
	TotalPaid      int64                    `json:"totalPaid"`
	UniquePayers   int                      `json:"uniquePayers"`
	Endpoints      map[string]EndpointStats `json:"endpoints"`
	RecentPayments []PaymentRecord          `json:"recentPayments"`
}

// Stats tracks revenue, request counts, unique payers and a bounded ring
// of recent payments. Safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	maxRecent int

	totalRevenue  int64
	totalRequests int64
	totalPaid     int64

	endpoints map[string]*EndpointStats
	payers    map[string]struct{}
	recent    []PaymentRecord
}

// NewStats creates an empty stats tracker.
func NewStats() *Stats {
	return &Stats{
		maxRecent: defaultMaxRecent,
		endpoints: make(map[string]*EndpointStats),
		payers:    make(map[string]struct{}),
	}
}

// Record counts one request, paid or free.
func (s *Stats) Record(endpoint string, paid bool, amountSats int64, payerID, paymentHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++

	ep, ok := s.endpoints[endpoint]
	if !ok {
		ep = &EndpointStats{}
		s.endpoints[endpoint] = ep
	}
	ep.Requests++

	if paid && amountSats > 0 {
		s.totalRevenue += amountSats
		s.totalPaid++
		ep.Revenue += amountSats
		ep.Paid++

		if payerID != "" {
			s.payers[payerID] = struct{}{}
		} else {
			payerID = "unknown"
		}

		s.recent = append(s.recent, PaymentRecord{
			Endpoint:    endpoint,
			AmountSats:  amountSats,
			PayerID:     payerID,
			PaymentHash: paymentHash,
			Timestamp:   time.Now().UnixMilli(),
		})
		if len(s.recent) > s.maxRecent {
			s.recent = s.recent[len(s.recent)-s.maxRecent:]
		}
	} else {
		ep.Free++
	}
}

// Snapshot returns the current counters with the last 20 payments,
// newest first.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoints := make(map[string]EndpointStats, len(s.endpoints))
	for path, ep := range s.endpoints {
		endpoints[path] = *ep
	}

	n := len(s.recent)
	limit := 20
	if n < limit {
		limit = n
	}
	recent := make([]PaymentRecord, limit)
	for i := 0; i < limit; i++ {
		recent[i] = s.recent[n-1-i]
	}

	return StatsSnapshot{
		TotalRevenue:   s.totalRevenue,
		TotalRequests:  s.totalRequests,
		TotalPaid:      s.totalPaid,
		UniquePayers:   len(s.payers),
		Endpoints:      endpoints,
		RecentPayments: recent,
	}
}
