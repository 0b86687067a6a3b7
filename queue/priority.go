// Package queue runs dubbing jobs from a durable priority queue: a worker
// pool dequeues envelopes in priority order, executes the job handler with
// retries, and publishes progress and exactly-once terminal events.
package queue

// PriorityMap maps a subscription plan name to a queue priority. Lower
// numeric value runs sooner.
type PriorityMap map[string]int

// DefaultPlanPriorities returns the built-in plan ordering.
func DefaultPlanPriorities() PriorityMap {
	return PriorityMap{
		"studio":  1,
		"pro":     2,
		"creator": 3,
		"free":    4,
	}
}

// Priority returns the priority for plan. Unknown plans, including the empty
// plan, queue behind every known one.
func (m PriorityMap) Priority(plan string) int {
	if p, ok := m[plan]; ok {
		return p
	}
	lowest := 0
	for _, p := range m {
		if p > lowest {
			lowest = p
		}
	}
	return lowest + 1
}
