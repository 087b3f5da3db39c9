package domain

// FlagKind is the closed set of data-quality conditions that can attach to a
// lot or opportunity. Conditions are recovered, never fatal, and always
// surfaced to the caller rather than silently dropped.
type FlagKind string

const (
	FlagPriceUnavailable    FlagKind = "price_unavailable"
	FlagEstimateUnavailable FlagKind = "estimate_unavailable"
	FlagOverDisposal        FlagKind = "over_disposal"
	FlagTransferInferred    FlagKind = "transfer_inferred"
	FlagWashSalePattern     FlagKind = "wash_sale_pattern" // advisory only
)

// Flag records a single data-quality condition with optional human-readable
// detail.
type Flag struct {
	Kind   FlagKind `json:"kind"`
	Detail string   `json:"detail,omitempty"`
}

// Confidence grades how trustworthy a computed cost basis is, derived from the
// data-quality flags observed while reconstructing it.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ConfidenceFromFlags maps the observed flag set to a confidence grade.
// Over-disposal means recorded history disagrees with reality, so it always
// degrades below HIGH; an inferred transfer alone only costs one grade.
func ConfidenceFromFlags(flags []Flag) Confidence {
	var overDisposal, inferred bool
	for _, f := range flags {
		switch f.Kind {
		case FlagOverDisposal:
			overDisposal = true
		case FlagTransferInferred:
			inferred = true
		}
	}
	switch {
	case overDisposal && inferred:
		return ConfidenceLow
	case overDisposal, inferred:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}
