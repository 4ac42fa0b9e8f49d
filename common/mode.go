package common

// Mode selects training or inference behavior for a forward call.
type Mode int

const (
	// ModeInference skips sampling and uses the inference proposal counts.
	ModeInference Mode = iota
	// ModeTraining samples regions against ground truth at every stage.
	ModeTraining
)

func (m Mode) String() string {
	if m == ModeTraining {
		return "training"
	}
	return "inference"
}
