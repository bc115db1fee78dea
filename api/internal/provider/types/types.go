package types

const (
	MaxImages        = 5
	MaxMatches       = 3
	MaxDiagnoses     = 5
	MaxSimilarImages = 2

	// Diagnoses at or below this confidence are dropped.
	MinDiagnosisConfidence = 0.01
)

// Image is one uploaded photo.
type Image struct {
	Data []byte
	MIME string
	Name string
}

type SimilarImage struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

type Care struct {
	Light string `json:"light"`
	Water string `json:"water"`
	Soil  string `json:"soil"`
}

type PlantMatch struct {
	Name           string         `json:"name"`
	ScientificName string         `json:"scientific_name"`
	Confidence     float64        `json:"confidence"`
	Description    string         `json:"description"`
	Care           Care           `json:"care"`
	ImageURL       string         `json:"image_url"`
	SimilarImages  []SimilarImage `json:"similar_images"`
	GCIURL         string         `json:"gci_url,omitempty"`
}

type HealthDiagnosis struct {
	Condition   string  `json:"condition"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	Treatment   string  `json:"treatment"`
	Cause       string  `json:"cause,omitempty"`
}

// Identification is what an identification adapter returns. Health is set
// only by adapters that assess health in the same upstream call.
type Identification struct {
	SpeciesDetected bool
	Matches         []PlantMatch
	Health          *Assessment
}

// Assessment is what a health adapter returns. IsHealthy is nil when the
// provider gave no health signal.
type Assessment struct {
	IsHealthy *bool
	Diagnoses []HealthDiagnosis
}

// IdentifyResult is the canonical response of one identification.
type IdentifyResult struct {
	Matches         []PlantMatch      `json:"matches"`
	IsHealthy       *bool             `json:"is_healthy"`
	HealthDiagnoses []HealthDiagnosis `json:"health_diagnoses"`
	RemainingQuota  int               `json:"remaining_quota"`
}

// EmptyResult is returned when no plant was detected.
func EmptyResult(remaining int) IdentifyResult {
	return IdentifyResult{
		Matches:         []PlantMatch{},
		HealthDiagnoses: []HealthDiagnosis{},
		RemainingQuota:  remaining,
	}
}

// Snapshot is the part of a result stored with a history record.
type Snapshot struct {
	Matches         []PlantMatch      `json:"matches"`
	IsHealthy       *bool             `json:"is_healthy"`
	HealthDiagnoses []HealthDiagnosis `json:"health_diagnoses"`
}

func (r IdentifyResult) Snapshot() Snapshot {
	return Snapshot{
		Matches:         r.Matches,
		IsHealthy:       r.IsHealthy,
		HealthDiagnoses: r.HealthDiagnoses,
	}
}

// CareDefaults fills care fields no provider supplies.
type CareDefaults struct {
	Light string
	Water string
	Soil  string
}

func DefaultCare() CareDefaults {
	return CareDefaults{
		Light: "Bright indirect light",
		Water: "Water when top soil is dry",
		Soil:  "Well-drained potting mix",
	}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Catalog resolves a scientific name to a reference page URL.
type Catalog interface {
	Lookup(scientificName string) (string, bool)
}
