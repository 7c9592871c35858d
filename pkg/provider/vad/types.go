package vad

// Result is the detection outcome for a single audio window.
type Result struct {
	// Speech reports whether the window's probability reached the session
	// threshold.
	Speech bool

	// Probability is the speech probability score in [0.0, 1.0].
	Probability float32
}
