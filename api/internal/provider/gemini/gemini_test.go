package gemini

import (
	"context"
	"errors"
	"testing"

	"leafscan/api/internal/catalog"
	"leafscan/api/internal/provider/types"
)

func TestMissingKey(t *testing.T) {
	e := New(Config{})
	_, err := e.Identify(context.Background(), []types.Image{{Data: []byte{1}}})
	var ce *types.ConfigError
	if !errors.As(err, &ce) || ce.Key != "GEMINI_API_KEY" {
		t.Fatalf("Identify err = %v", err)
	}
	if _, err := e.Diagnose(context.Background(), nil); !errors.As(err, &ce) {
		t.Fatalf("Diagnose err = %v", err)
	}
	if e.Model != DefaultModel {
		t.Errorf("model = %q", e.Model)
	}
}

func TestParseAnswerIdentification(t *testing.T) {
	raw := "```json\n" + `{
	  "is_plant": true,
	  "suggestions": [
	    {"scientific_name": "Monstera deliciosa", "common_names": ["Swiss cheese plant", "Split-leaf philodendron"],
	     "probability": 1.3, "description": "", "watering": {"min": 1, "max": 1}},
	    {"scientific_name": "", "probability": 0.2},
	    {"scientific_name": "Philodendron bipinnatifidum", "common_names": [], "probability": 0.1, "description": "A large aroid."},
	    {"scientific_name": "Epipremnum aureum", "probability": 0.05},
	    {"scientific_name": "Ficus lyrata", "probability": 0.01}
	  ]
	}` + "\n```"

	a, err := parseAnswer(raw)
	if err != nil {
		t.Fatalf("parseAnswer: %v", err)
	}

	cat := catalog.New([]catalog.Page{{Name: "Monstera deliciosa", URL: "https://gci/monstera"}})
	e := New(Config{APIKey: "k", Care: types.DefaultCare(), Catalog: cat})
	res := e.identification(a)

	if !res.SpeciesDetected {
		t.Fatal("species not detected")
	}
	if len(res.Matches) != 2 {
		t.Fatalf("matches = %d, want 2 (blank name dropped, truncated to 3 first)", len(res.Matches))
	}
	m := res.Matches[0]
	if m.Name != "Swiss cheese plant" || m.Confidence != 1 || m.GCIURL != "https://gci/monstera" {
		t.Errorf("match[0] = %+v", m)
	}
	if m.Description != "Also known as: Swiss cheese plant, Split-leaf philodendron." {
		t.Errorf("description = %q", m.Description)
	}
	if m.Care.Water != types.WaterLow {
		t.Errorf("water = %q", m.Care.Water)
	}
	if res.Matches[1].Description != "A large aroid." {
		t.Errorf("match[1] = %+v", res.Matches[1])
	}
}

func TestIdentificationNotAPlant(t *testing.T) {
	a, err := parseAnswer(`{"is_plant": false, "suggestions": [{"scientific_name": "Rosa", "probability": 0.1}]}`)
	if err != nil {
		t.Fatal(err)
	}
	res := New(Config{}).identification(a)
	if res.SpeciesDetected || res.Matches == nil || len(res.Matches) != 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestAssessment(t *testing.T) {
	a, err := parseAnswer(`{
	  "is_healthy": false,
	  "diseases": [
	    {"name": "powdery mildew", "local_name": "Powdery mildew", "probability": 0.7,
	     "treatment": {"chemical": ["Sulfur spray"]}, "cause": "Erysiphales"},
	    {"name": "sunburn", "probability": 0.2},
	    {"name": "", "local_name": "", "probability": 0.5},
	    {"name": "trace", "probability": 0.001}
	  ]
	}`)
	if err != nil {
		t.Fatal(err)
	}
	got := assessment(a)
	if got.IsHealthy == nil || *got.IsHealthy {
		t.Errorf("is_healthy = %v", got.IsHealthy)
	}
	if len(got.Diagnoses) != 2 {
		t.Fatalf("diagnoses = %+v", got.Diagnoses)
	}
	if d := got.Diagnoses[0]; d.Condition != "Powdery mildew" || d.Treatment != "Sulfur spray" || d.Cause != "Erysiphales" {
		t.Errorf("d[0] = %+v", d)
	}
	if d := got.Diagnoses[1]; d.Description != "Detected condition: sunburn." || d.Treatment != types.TreatmentFallback {
		t.Errorf("d[1] = %+v", d)
	}
}

func TestAssessmentUnknownHealth(t *testing.T) {
	a, err := parseAnswer(`{"is_healthy": null, "diseases": []}`)
	if err != nil {
		t.Fatal(err)
	}
	if got := assessment(a); got.IsHealthy != nil || len(got.Diagnoses) != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestParseAnswerMalformed(t *testing.T) {
	for _, raw := range []string{"", "I think it is a rose."} {
		_, err := parseAnswer(raw)
		var ue *types.UpstreamError
		if !errors.As(err, &ue) || ue.Provider != Name {
			t.Errorf("parseAnswer(%q) err = %v", raw, err)
		}
	}
}

func TestCombinedHealth(t *testing.T) {
	raw := `{"is_plant":true,
	  "suggestions":[{"scientific_name":"Ficus lyrata","common_names":["Fiddle-leaf fig"],"probability":0.7}],
	  "is_healthy":false,
	  "diseases":[{"name":"Edema","local_name":"","probability":0.4,"treatment":null}]}`
	a, err := parseAnswer(raw)
	if err != nil {
		t.Fatal(err)
	}

	plain := New(Config{APIKey: "k"}).result(a)
	if plain.Health != nil {
		t.Error("health attached without Health set")
	}

	res := New(Config{APIKey: "k", Health: true}).result(a)
	if res.Health == nil || res.Health.IsHealthy == nil || *res.Health.IsHealthy {
		t.Fatalf("health = %+v", res.Health)
	}
	if len(res.Health.Diagnoses) != 1 || res.Health.Diagnoses[0].Condition != "Edema" ||
		res.Health.Diagnoses[0].Treatment != types.TreatmentFallback {
		t.Errorf("diagnoses = %+v", res.Health.Diagnoses)
	}
}
