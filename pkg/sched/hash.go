package sched

import "hash/fnv"

// SlotMinute maps userID to a stable minute offset in [0, windowMinutes)
// using FNV-1a. Content-based, not persisted: the slot is reproducible for
// as long as the userID is stable, which spreads server load evenly across
// users without per-user state.
func SlotMinute(userID string, windowMinutes int) int {
	if windowMinutes <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(windowMinutes))
}
