package progress

// AggregateBooking computes the weighted mean of milestone progress.
// Missing weights count as DefaultWeight; no milestones or a zero total
// weight yield 0. The result depends only on the input, so repeated runs
// over the same milestones agree.
func AggregateBooking(milestones []Milestone) int {
	var weighted, total float64
	for i := range milestones {
		w := milestones[i].EffectiveWeight()
		if w <= 0 {
			continue
		}
		weighted += float64(milestones[i].ProgressPercentage) * w
		total += w
	}
	if total <= 0 {
		return 0
	}
	return RoundHalfUp(weighted / total)
}
