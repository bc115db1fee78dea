package types

import (
	"fmt"
	"math"
	"strings"
)

const (
	WaterLow      = "Low water needs — water sparingly"
	WaterHigh     = "High water needs — keep soil consistently moist"
	WaterModerate = "Moderate watering — water when soil feels dry"

	TreatmentFallback = "Consult a local gardening expert for treatment options."
)

// Watering is a provider's watering frequency range. Either bound may be
// missing.
type Watering struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// WaterTip buckets a watering range. A nil range yields fallback.
func WaterTip(w *Watering, fallback string) string {
	if w == nil || (w.Min == nil && w.Max == nil) {
		return fallback
	}
	switch {
	case w.Max != nil && *w.Max <= 1:
		return WaterLow
	case w.Min != nil && *w.Min >= 2:
		return WaterHigh
	default:
		return WaterModerate
	}
}

// CareFor builds the care block for one match.
func CareFor(d CareDefaults, w *Watering) Care {
	return Care{
		Light: d.Light,
		Water: WaterTip(w, d.Water),
		Soil:  d.Soil,
	}
}

// DisplayName is the first non-blank common name, else the scientific name.
func DisplayName(commonNames []string, scientific string) string {
	for _, n := range commonNames {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return scientific
}

// Describe returns the provider description, or an alias sentence when
// there are at least two common names, or "".
func Describe(providerText string, commonNames []string) string {
	if t := strings.TrimSpace(providerText); t != "" {
		return t
	}
	if len(commonNames) < 2 {
		return ""
	}
	aliases := commonNames
	if len(aliases) > 3 {
		aliases = aliases[:3]
	}
	return "Also known as: " + strings.Join(aliases, ", ") + "."
}

// FallbackDescription is used for matches that still have no description
// after mapping.
func FallbackDescription(scientific string, confidence float64) string {
	return fmt.Sprintf("Identified as %s. Confidence: %d%%.", scientific, int(math.Round(confidence*100)))
}

// Treatment holds the treatment categories a provider may return.
type Treatment struct {
	Biological []string `json:"biological"`
	Chemical   []string `json:"chemical"`
	Prevention []string `json:"prevention"`
}

// Text joins the present categories into one sentence block.
func (t *Treatment) Text() string {
	if t == nil {
		return TreatmentFallback
	}
	var parts []string
	if len(t.Biological) > 0 {
		parts = append(parts, strings.Join(t.Biological, ". "))
	}
	if len(t.Chemical) > 0 {
		parts = append(parts, strings.Join(t.Chemical, ". "))
	}
	if len(t.Prevention) > 0 {
		parts = append(parts, "Prevention: "+strings.Join(t.Prevention, ". "))
	}
	if len(parts) == 0 {
		return TreatmentFallback
	}
	return strings.Join(parts, " ")
}

// ConditionDescription falls back to a synthesized sentence.
func ConditionDescription(providerText, condition string) string {
	if t := strings.TrimSpace(providerText); t != "" {
		return t
	}
	return "Detected condition: " + condition + "."
}

// FilterDiagnoses drops low-confidence entries and keeps the first
// MaxDiagnoses in provider order.
func FilterDiagnoses(in []HealthDiagnosis) []HealthDiagnosis {
	out := make([]HealthDiagnosis, 0, MaxDiagnoses)
	for _, d := range in {
		if d.Confidence <= MinDiagnosisConfidence {
			continue
		}
		out = append(out, d)
		if len(out) == MaxDiagnoses {
			break
		}
	}
	return out
}

// TruncateMatches keeps the first MaxMatches in provider order.
func TruncateMatches(in []PlantMatch) []PlantMatch {
	if len(in) > MaxMatches {
		return in[:MaxMatches]
	}
	if in == nil {
		return []PlantMatch{}
	}
	return in
}

// TruncateSimilar keeps the first MaxSimilarImages.
func TruncateSimilar(in []SimilarImage) []SimilarImage {
	if len(in) > MaxSimilarImages {
		return in[:MaxSimilarImages]
	}
	if in == nil {
		return []SimilarImage{}
	}
	return in
}
