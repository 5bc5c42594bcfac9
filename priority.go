package websqlite3

import "github.com/joao-brasil/websqlite3/internal/queue"

// Priority is the scheduling priority of a submitted Request. Requests
// are dispatched highest-priority first; within the same priority,
// submission order (FIFO) is preserved.
type Priority = queue.Priority

const (
	PriorityLow      = queue.PriorityLow
	PriorityNormal   = queue.PriorityNormal
	PriorityHigh     = queue.PriorityHigh
	PriorityCritical = queue.PriorityCritical
)
