// Package rt implements component H: the CBS+EDF real-time admission core
// that guards directive dispatch against unbounded work.
//
// Each dispatched directive class runs behind a Constant Bandwidth Server:
// a (budget, period) pair bounding how much execution time it may consume
// per period. Admission sums requested utilization (budget/period) the
// same way the teacher's token bucket sums action cost against a shared
// capacity (internal/budget/token_bucket.go), generalized from a token
// count refilled on a fixed ticker to a time budget refilled at each
// server's own period boundary — the defining difference between a plain
// rate limiter and a CBS.
package rt

import (
	"sort"
	"sync"
	"time"
)

// Server is one CBS server: a real-time class with its own budget/period,
// bound to exactly one CPU's runqueue at a time.
type Server struct {
	ID        string
	CPU       int
	Budget    time.Duration // Q_s, replenished to this value at each deadline
	Period    time.Duration // P_s
	deadline  time.Time     // absolute current deadline (now + Period at reset)
	remaining time.Duration
	throttled bool
}

// Utilization returns Budget/Period.
func (s Server) Utilization() float64 {
	if s.Period <= 0 {
		return 0
	}
	return float64(s.Budget) / float64(s.Period)
}

// Core is the admission and dispatch state for all registered servers,
// partitioned across an SMP set of up to NumCPUs CPUs — each CPU has its
// own runqueue, and Σ(budget/period) ≤ MaxUtilization is enforced per CPU,
// not globally, per spec invariant (v).
type Core struct {
	mu             sync.Mutex
	maxUtilization float64
	numCPUs        int
	servers        map[string]*Server

	deadlineMisses uint64
}

// NewCore constructs a Core with the given per-CPU utilization ceiling
// (rt.max_utilization in configuration, typically <1.0 to leave headroom
// for non-real-time work) and CPU count (rt.cpu_count).
func NewCore(maxUtilization float64, numCPUs int) *Core {
	if maxUtilization <= 0 || maxUtilization > 1 {
		maxUtilization = 0.8
	}
	if numCPUs < 1 {
		numCPUs = 1
	}
	return &Core{maxUtilization: maxUtilization, numCPUs: numCPUs, servers: make(map[string]*Server)}
}

// NumCPUs returns the size of the schedulable CPU set.
func (c *Core) NumCPUs() int { return c.numCPUs }

func (c *Core) utilizationOnCPULocked(cpu int) float64 {
	var total float64
	for _, s := range c.servers {
		if s.CPU == cpu {
			total += s.Utilization()
		}
	}
	return total
}

// Admit registers a new server on cpu. Rejects with NotSchedulableError if
// doing so would push that CPU's total utilization past MaxUtilization —
// the admission inequality is evaluated per CPU, never across the whole
// machine, so one CPU's headroom can never be borrowed by another's
// reservation. The caller must not dispatch work to a class that failed
// admission.
func (c *Core) Admit(id string, cpu int, budget, period time.Duration, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cpu < 0 || cpu >= c.numCPUs {
		return &InvalidCPUError{CPU: cpu, NumCPUs: c.numCPUs}
	}

	if _, exists := c.servers[id]; exists {
		delete(c.servers, id) // re-admission replaces, recompute fresh
	}

	requested := float64(budget) / float64(period)
	current := c.utilizationOnCPULocked(cpu)
	if current+requested > c.maxUtilization {
		return &NotSchedulableError{ServerID: id, CPU: cpu, RequestedUtil: requested, CurrentUtil: current, MaxUtilization: c.maxUtilization}
	}

	c.servers[id] = &Server{
		ID: id, CPU: cpu, Budget: budget, Period: period,
		deadline:  now.Add(period),
		remaining: budget,
	}
	return nil
}

// Remove withdraws a server from admission, freeing its utilization share
// on whichever CPU it was bound to.
func (c *Core) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.servers, id)
}

// Migrate rebinds server id to toCPU. Per spec, "migration between CPUs is
// allowed only at throttle events": Migrate refuses with
// MigrationNotAllowedError unless the server is currently throttled (its
// budget ran out before its next deadline), and re-validates admission on
// the destination CPU exactly as Admit would, so a migration can never
// itself violate that CPU's utilization ceiling.
func (c *Core) Migrate(id string, toCPU int, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refillDueLocked(now)

	s, ok := c.servers[id]
	if !ok {
		return &UnknownServerError{ServerID: id}
	}
	if !s.throttled {
		return &MigrationNotAllowedError{ServerID: id}
	}
	if toCPU < 0 || toCPU >= c.numCPUs {
		return &InvalidCPUError{CPU: toCPU, NumCPUs: c.numCPUs}
	}

	requested := s.Utilization()
	current := c.utilizationOnCPULocked(toCPU)
	if current+requested > c.maxUtilization {
		return &NotSchedulableError{ServerID: id, CPU: toCPU, RequestedUtil: requested, CurrentUtil: current, MaxUtilization: c.maxUtilization}
	}

	s.CPU = toCPU
	return nil
}

// Dispatch selects the earliest-deadline server with remaining budget > 0
// among those bound to cpu — each CPU dispatches only from its own
// runqueue. Ties are broken by lexicographically lower server id, for
// determinism. Returns ("", false) if every server on cpu is currently
// throttled.
func (c *Core) Dispatch(cpu int, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refillDueLocked(now)

	var candidates []*Server
	for _, s := range c.servers {
		if s.CPU == cpu && s.remaining > 0 {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].deadline.Equal(candidates[j].deadline) {
			return candidates[i].deadline.Before(candidates[j].deadline)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].ID, true
}

// refillDueLocked replenishes any server whose deadline has passed: budget
// resets to full and the deadline advances by one period, mirroring the
// teacher's full-capacity refill but gated on each server's own deadline
// instead of a shared ticker.
func (c *Core) refillDueLocked(now time.Time) {
	for _, s := range c.servers {
		if !now.Before(s.deadline) {
			if s.throttled && s.remaining <= 0 {
				c.deadlineMisses++
			}
			s.remaining = s.Budget
			s.deadline = s.deadline.Add(s.Period)
			s.throttled = false
		}
	}
}

// Charge debits delta from server id's remaining budget. When the budget
// is exhausted the server is throttled until its next deadline — it simply
// stops being a Dispatch candidate — rather than borrowing from a future
// period, which is what keeps CBS bandwidth-isolated.
func (c *Core) Charge(id string, delta time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.servers[id]
	if !ok {
		return &UnknownServerError{ServerID: id}
	}
	s.remaining -= delta
	if s.remaining <= 0 {
		s.remaining = 0
		s.throttled = true
	}
	return nil
}

// DeadlineMisses returns the lifetime count of servers that reached their
// deadline still fully throttled (budget exhausted, never refilled early).
func (c *Core) DeadlineMisses() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlineMisses
}

// Utilization returns the current total admitted utilization across every
// CPU. For the per-CPU figure the admission inequality actually bounds, use
// UtilizationOnCPU.
func (c *Core) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total float64
	for _, s := range c.servers {
		total += s.Utilization()
	}
	return total
}

// UtilizationOnCPU returns the current admitted utilization on one CPU.
func (c *Core) UtilizationOnCPU(cpu int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utilizationOnCPULocked(cpu)
}

// UtilizationByCPU returns admitted utilization for every CPU in the
// schedulable set, keyed by CPU id — used to populate the per-CPU
// Prometheus gauge.
func (c *Core) UtilizationByCPU() map[int]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]float64, c.numCPUs)
	for cpu := 0; cpu < c.numCPUs; cpu++ {
		out[cpu] = c.utilizationOnCPULocked(cpu)
	}
	return out
}

// ServerState is a snapshot of one server's scheduling state, used by
// telemetry and operator tooling.
type ServerState struct {
	ID        string
	CPU       int
	Remaining time.Duration
	Deadline  time.Time
	Throttled bool
}

// Snapshot returns the current state of every admitted server.
func (c *Core) Snapshot(now time.Time) []ServerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refillDueLocked(now)

	out := make([]ServerState, 0, len(c.servers))
	for _, s := range c.servers {
		out = append(out, ServerState{ID: s.ID, CPU: s.CPU, Remaining: s.remaining, Deadline: s.deadline, Throttled: s.throttled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
