package model

// QueueStats is a read-only aggregate over the pending operations and
// the error log. It is recomputed on demand, never persisted.
type QueueStats struct {
	TotalPending     int                   `json:"totalPending"`
	ByType           map[OperationType]int `json:"byType"`
	HighPriority     int                   `json:"highPriority"`
	FailedOperations int                   `json:"failedOperations"`
}

// ComputeQueueStats derives QueueStats from the current collections.
func ComputeQueueStats(ops []PendingOperation, errs []SyncError) QueueStats {
	stats := QueueStats{
		ByType: make(map[OperationType]int),
	}
	for _, op := range ops {
		stats.TotalPending++
		stats.ByType[op.Type]++
		if op.Priority == PriorityHigh {
			stats.HighPriority++
		}
	}
	stats.FailedOperations = len(errs)
	return stats
}
