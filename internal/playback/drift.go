package playback

import "math"

// DriftMonitor remembers the last sampled position and flags jumps larger
// than the threshold. Most players do not fire a distinct seek notification,
// so polling is the only way to notice a manual scrub.
type DriftMonitor struct {
	threshold float64
	last      float64
	primed    bool
}

func NewDriftMonitor(threshold float64) *DriftMonitor {
	return &DriftMonitor{threshold: threshold}
}

// Sample records pos and reports whether it is a scrub worth announcing.
// The first sample after Reset only primes the monitor.
func (d *DriftMonitor) Sample(pos float64, suppressed bool) bool {
	jumped := d.primed && math.Abs(pos-d.last) > d.threshold && !suppressed
	d.last = pos
	d.primed = true
	return jumped
}

// Reset makes pos the last known position. The engine calls it after moving
// the player itself.
func (d *DriftMonitor) Reset(pos float64) {
	d.last = pos
	d.primed = true
}

// Clear forgets the last sample.
func (d *DriftMonitor) Clear() {
	d.last = 0
	d.primed = false
}

func (d *DriftMonitor) Last() (float64, bool) {
	return d.last, d.primed
}
