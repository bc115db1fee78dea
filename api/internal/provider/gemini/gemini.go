// Package gemini identifies plants and assesses their health with a Gemini
// vision model that answers in a fixed JSON shape.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"leafscan/api/internal/metrics"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/util"
)

const (
	Name         = "gemini"
	DefaultModel = "gemini-2.5-flash"
)

const identifySystem = `You are a botanist. Identify the plant shown in the photos.
Answer with JSON only, no prose:
{
  "is_plant": boolean,              // false if the photos show no plant
  "suggestions": [                  // up to 3, most likely first
    {
      "scientific_name": string,    // binomial without author
      "common_names": [string],     // English, most common first
      "probability": number,        // 0..1
      "description": string,        // one or two sentences
      "watering": {"min": number, "max": number}  // 1 dry, 2 medium, 3 wet
    }
  ],
  "is_healthy": boolean | null,
  "diseases": []
}`

const diagnoseSystem = `You are a plant pathologist. Assess the health of the plant shown in the photos.
Answer with JSON only, no prose:
{
  "is_plant": boolean,
  "suggestions": [],
  "is_healthy": boolean | null,     // null if you cannot tell
  "diseases": [                     // up to 5, most likely first
    {
      "name": string,               // technical label
      "local_name": string,         // common English name
      "probability": number,        // 0..1
      "description": string,
      "cause": string,
      "treatment": {"biological": [string], "chemical": [string], "prevention": [string]}
    }
  ]
}`

const combinedSystem = `You are a botanist and plant pathologist. Identify the plant shown in the photos
and assess its health. Answer with JSON only, no prose:
{
  "is_plant": boolean,
  "suggestions": [                  // up to 3, most likely first
    {
      "scientific_name": string,
      "common_names": [string],
      "probability": number,
      "description": string,
      "watering": {"min": number, "max": number}
    }
  ],
  "is_healthy": boolean | null,
  "diseases": [                     // up to 5, most likely first
    {
      "name": string,
      "local_name": string,
      "probability": number,
      "description": string,
      "cause": string,
      "treatment": {"biological": [string], "chemical": [string], "prevention": [string]}
    }
  ]
}`

type Config struct {
	APIKey string
	Model  string
	// Health asks for a health assessment in the identification call too.
	Health  bool
	Care    types.CareDefaults
	Catalog types.Catalog
	Timeout time.Duration
}

type Engine struct {
	APIKey  string
	Model   string
	Health  bool
	care    types.CareDefaults
	catalog types.Catalog
	timeout time.Duration
}

func New(cfg Config) *Engine {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Model:   model,
		Health:  cfg.Health,
		care:    cfg.Care,
		catalog: cfg.Catalog,
		timeout: cfg.Timeout,
	}
}

func (e *Engine) Name() string { return Name }

type suggestion struct {
	ScientificName string          `json:"scientific_name"`
	CommonNames    []string        `json:"common_names"`
	Probability    float64         `json:"probability"`
	Description    string          `json:"description"`
	Watering       *types.Watering `json:"watering"`
}

type disease struct {
	Name        string           `json:"name"`
	LocalName   string           `json:"local_name"`
	Probability float64          `json:"probability"`
	Description string           `json:"description"`
	Cause       string           `json:"cause"`
	Treatment   *types.Treatment `json:"treatment"`
}

type answer struct {
	IsPlant     *bool        `json:"is_plant"`
	Suggestions []suggestion `json:"suggestions"`
	IsHealthy   *bool        `json:"is_healthy"`
	Diseases    []disease    `json:"diseases"`
}

// Identify names the plant. With Health set the same request also returns
// a health assessment in Identification.Health.
func (e *Engine) Identify(ctx context.Context, images []types.Image) (types.Identification, error) {
	system, user := identifySystem, "Identify this plant."
	if e.Health {
		system, user = combinedSystem, "Identify this plant and assess its health."
	}
	a, err := e.ask(ctx, "identify", system, user, images)
	if err != nil {
		return types.Identification{}, err
	}
	return e.result(a), nil
}

func (e *Engine) result(a answer) types.Identification {
	res := e.identification(a)
	if e.Health && res.SpeciesDetected {
		h := assessment(a)
		res.Health = &h
	}
	return res
}

func (e *Engine) Diagnose(ctx context.Context, images []types.Image) (types.Assessment, error) {
	a, err := e.ask(ctx, "diagnose", diagnoseSystem, "Assess the health of this plant.", images)
	if err != nil {
		return types.Assessment{}, err
	}
	return assessment(a), nil
}

func (e *Engine) ask(ctx context.Context, op, system, user string, images []types.Image) (answer, error) {
	if e.APIKey == "" {
		return answer{}, &types.ConfigError{Provider: Name, Key: "GEMINI_API_KEY"}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return answer{}, fmt.Errorf("gemini: new client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	parts := []genai.Part{genai.Text(user)}
	for _, img := range images {
		mime := img.MIME
		if mime == "" {
			mime = util.SniffImageMIME(img.Data)
		}
		parts = append(parts, &genai.Blob{MIMEType: mime, Data: img.Data})
	}

	start := time.Now()
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		metrics.RecordUpstream(Name, op, time.Since(start), http.StatusBadGateway)
		if errors.Is(ctx.Err(), context.Canceled) {
			return answer{}, fmt.Errorf("gemini %s: %w", op, ctx.Err())
		}
		return answer{}, &types.UpstreamError{Provider: Name, Status: http.StatusBadGateway, Message: err.Error()}
	}
	metrics.RecordUpstream(Name, op, time.Since(start), 0)

	return parseAnswer(responseText(resp))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func parseAnswer(raw string) (answer, error) {
	raw = util.StripCodeFences(raw)
	if raw == "" {
		return answer{}, &types.UpstreamError{Provider: Name, Status: http.StatusBadGateway, Message: "empty model response"}
	}
	var a answer
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return answer{}, &types.UpstreamError{
			Provider: Name,
			Status:   http.StatusBadGateway,
			Message:  "model returned malformed JSON: " + util.Truncate(raw, 200),
		}
	}
	return a, nil
}

func (e *Engine) identification(a answer) types.Identification {
	if (a.IsPlant != nil && !*a.IsPlant) || len(a.Suggestions) == 0 {
		return types.Identification{SpeciesDetected: false, Matches: []types.PlantMatch{}}
	}
	in := a.Suggestions
	if len(in) > types.MaxMatches {
		in = in[:types.MaxMatches]
	}
	out := make([]types.PlantMatch, 0, len(in))
	for _, s := range in {
		sci := strings.TrimSpace(s.ScientificName)
		if sci == "" {
			continue
		}
		m := types.PlantMatch{
			Name:           types.DisplayName(s.CommonNames, sci),
			ScientificName: sci,
			Confidence:     clamp01(s.Probability),
			Description:    types.Describe(s.Description, s.CommonNames),
			Care:           types.CareFor(e.care, s.Watering),
			SimilarImages:  []types.SimilarImage{},
		}
		if e.catalog != nil {
			m.GCIURL, _ = e.catalog.Lookup(sci)
		}
		out = append(out, m)
	}
	return types.Identification{SpeciesDetected: len(out) > 0, Matches: out}
}

func assessment(a answer) types.Assessment {
	all := make([]types.HealthDiagnosis, 0, len(a.Diseases))
	for _, d := range a.Diseases {
		label := strings.TrimSpace(d.Name)
		condition := strings.TrimSpace(d.LocalName)
		if condition == "" {
			condition = label
		}
		if condition == "" {
			continue
		}
		if label == "" {
			label = condition
		}
		all = append(all, types.HealthDiagnosis{
			Condition:   condition,
			Confidence:  clamp01(d.Probability),
			Description: types.ConditionDescription(d.Description, label),
			Treatment:   d.Treatment.Text(),
			Cause:       strings.TrimSpace(d.Cause),
		})
	}
	return types.Assessment{IsHealthy: a.IsHealthy, Diagnoses: types.FilterDiagnoses(all)}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func ptrFloat32(v float32) *float32 { return &v }
