package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxResponseSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	connections   int64
	malformed     int64
	requests      map[string]int64
	selections    map[string]int64
	fallbacks     map[string]int64
	bytes         map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	startTime     time.Time
}

type Snapshot struct {
	Connections   int64                     `json:"connections"`
	Malformed     int64                     `json:"malformed_requests"`
	TotalRequests int64                     `json:"total_requests"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
	Active        map[string]map[string]int `json:"active,omitempty"`
}

type BackendMetrics struct {
	Requests    int64         `json:"requests"`
	Selections  int64         `json:"selections"`
	Fallbacks   int64         `json:"fallbacks"`
	Bytes       int64         `json:"bytes"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		selections:    make(map[string]int64),
		fallbacks:     make(map[string]int64),
		bytes:         make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementConnections() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connections++
}

func (m *Metrics) IncrementMalformed() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.malformed++
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[backend]++
}

// RecordResponse accounts one finished forward. Failed forwards count as
// requests and fallbacks but do not contribute a status code.
func (m *Metrics) RecordResponse(backend string, duration time.Duration, statusCode int, size int, forwardFailed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[backend]++
	m.bytes[backend] += int64(size)

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)
	if len(m.responseTimes[backend]) > maxResponseSamples {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}

	if forwardFailed {
		m.fallbacks[backend]++
		return
	}

	if m.statusCodes[backend] == nil {
		m.statusCodes[backend] = make(map[int]int64)
	}
	m.statusCodes[backend][statusCode]++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Connections: m.connections,
		Malformed:   m.malformed,
		Uptime:      time.Since(m.startTime),
		Backends:    make(map[string]BackendMetrics),
	}

	allBackends := make(map[string]bool)
	for backend := range m.requests {
		allBackends[backend] = true
	}
	for backend := range m.selections {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		snap.TotalRequests += m.requests[backend]

		bm := BackendMetrics{
			Requests:    m.requests[backend],
			Selections:  m.selections[backend],
			Fallbacks:   m.fallbacks[backend],
			Bytes:       m.bytes[backend],
			StatusCodes: make(map[int]int64, len(m.statusCodes[backend])),
		}
		for code, n := range m.statusCodes[backend] {
			bm.StatusCodes[code] = n
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
