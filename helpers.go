package landrun

// IsSingleRun reports whether a power's active state lasts only for the
// current run and is cleared when the trail ends for any reason.
// Last Stand is the exception: once activated it stays on the player until a
// claim consumes it.
func (p Power) IsSingleRun() bool {
	switch p {
	case GhostRunner, TrailDefense, Infiltrator:
		return true
	default:
		return false
	}
}

// SingleRunPowers lists the powers cleared when a run ends.
func SingleRunPowers() []Power {
	return []Power{GhostRunner, TrailDefense, Infiltrator}
}
