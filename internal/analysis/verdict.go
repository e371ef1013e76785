package analysis

// Verdict labels an originality score for display.
type Verdict string

const (
	VerdictOriginal    Verdict = "original"
	VerdictMixed       Verdict = "mixed"
	VerdictPlagiarized Verdict = "plagiarized"
)

// Thresholds are the originality bands used to label verdicts.
//
// The defaults match the colour bands of the web dashboard; they are tuning
// constants with no stated derivation.
type Thresholds struct {
	Original int `mapstructure:"original"`
	Mixed    int `mapstructure:"mixed"`
}

// DefaultThresholds returns the stock verdict bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Original: 90, Mixed: 70}
}

// Verdict labels an originality score (100 = fully original).
func (t Thresholds) Verdict(originality int) Verdict {
	switch {
	case originality >= t.Original:
		return VerdictOriginal
	case originality >= t.Mixed:
		return VerdictMixed
	default:
		return VerdictPlagiarized
	}
}
