package pipeline

import "time"

// LowerBound is the oldest receive time the run scans for. The window spans one
// scheduler cycle plus the look-back extension, so a message missed by one run is
// offered again by the next ones.
func LowerBound(now time.Time, cycleMinutes, lookbackMinutes int) time.Time {
	return now.Add(-time.Duration(cycleMinutes+lookbackMinutes) * time.Minute)
}
