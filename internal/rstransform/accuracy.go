package rstransform

// Accuracy is a coarse classification of a composite transform. It says
// which kind of model is involved, not how large the error is.
type Accuracy int

const (
	// AccuracyUnknown means no geometric model was applied.
	AccuracyUnknown Accuracy = iota
	// AccuracyEstimate means a sensor (RPC) model is involved.
	AccuracyEstimate
	// AccuracyPrecise means only map projections are involved.
	AccuracyPrecise
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyEstimate:
		return "ESTIMATE"
	case AccuracyPrecise:
		return "PRECISE"
	default:
		return "UNKNOWN"
	}
}

// classify derives the accuracy from the kinds each side resolved to,
// before the WGS84 cross-consistency correction.
func classify(in, out Kind) Accuracy {
	switch {
	case in.IsSensorModel() || out.IsSensorModel():
		return AccuracyEstimate
	case in == KindIdentity && out == KindIdentity:
		return AccuracyUnknown
	default:
		return AccuracyPrecise
	}
}
