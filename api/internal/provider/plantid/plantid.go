// Package plantid talks to the Plant.id v3 API, which offers species
// identification and health assessment.
package plantid

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"leafscan/api/internal/provider"
	"leafscan/api/internal/provider/types"
)

const (
	Name           = "plantid"
	DefaultBaseURL = "https://api.plant.id/v3"

	classificationDetails = "common_names,url,description,taxonomy,watering,edible_parts"
	diseaseDetails        = "local_name,description,treatment,cause"
)

type Config struct {
	APIKey  string
	BaseURL string
	// Health requests disease assessment together with identification.
	Health  bool
	Care    types.CareDefaults
	Catalog types.Catalog
	Timeout time.Duration
}

type Engine struct {
	APIKey  string
	BaseURL string
	Health  bool
	care    types.CareDefaults
	catalog types.Catalog
	httpc   *http.Client
}

func New(cfg Config) *Engine {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		BaseURL: base,
		Health:  cfg.Health,
		care:    cfg.Care,
		catalog: cfg.Catalog,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (e *Engine) Name() string { return Name }

type requestBody struct {
	Images        []string `json:"images"`
	SimilarImages bool     `json:"similar_images"`
	Health        string   `json:"health,omitempty"`
}

type binary struct {
	Binary      *bool   `json:"binary"`
	Probability float64 `json:"probability"`
}

type similarImage struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

type suggestion struct {
	Name          string         `json:"name"`
	Probability   float64        `json:"probability"`
	SimilarImages []similarImage `json:"similar_images"`
	Details       *struct {
		CommonNames []string `json:"common_names"`
		URL         string   `json:"url"`
		Description *struct {
			Value string `json:"value"`
		} `json:"description"`
		Watering *types.Watering `json:"watering"`
	} `json:"details"`
}

type diseaseSuggestion struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	Details     *struct {
		LocalName   string           `json:"local_name"`
		Description string           `json:"description"`
		Treatment   *types.Treatment `json:"treatment"`
		Cause       string           `json:"cause"`
	} `json:"details"`
}

type apiResponse struct {
	Result struct {
		IsPlant        *binary `json:"is_plant"`
		IsHealthy      *binary `json:"is_healthy"`
		Classification struct {
			Suggestions []suggestion `json:"suggestions"`
		} `json:"classification"`
		Disease struct {
			IsHealthy   *binary             `json:"is_healthy"`
			Suggestions []diseaseSuggestion `json:"suggestions"`
		} `json:"disease"`
	} `json:"result"`
}

func (e *Engine) checkKey() error {
	if e.APIKey == "" {
		return &types.ConfigError{Provider: Name, Key: "PLANT_ID_API_KEY"}
	}
	return nil
}

// Identify classifies the images. With Health set the same call also
// returns a health assessment in Identification.Health.
func (e *Engine) Identify(ctx context.Context, images []types.Image) (types.Identification, error) {
	if err := e.checkKey(); err != nil {
		return types.Identification{}, err
	}
	q := url.Values{}
	q.Set("details", classificationDetails)
	body := requestBody{Images: encodeImages(images), SimilarImages: true}
	if e.Health {
		body.Health = "all"
		q.Set("disease_details", diseaseDetails)
	}

	var out apiResponse
	if err := e.post(ctx, "/identification", q, body, "identify", &out); err != nil {
		return types.Identification{}, err
	}

	if flag := out.Result.IsPlant; flag != nil && flag.Binary != nil && !*flag.Binary {
		return types.Identification{SpeciesDetected: false, Matches: []types.PlantMatch{}}, nil
	}

	res := types.Identification{
		SpeciesDetected: true,
		Matches:         e.mapSuggestions(out.Result.Classification.Suggestions),
	}
	if e.Health {
		a := mapAssessment(out)
		res.Health = &a
	}
	return res, nil
}

// Diagnose runs a health-only assessment without classification.
func (e *Engine) Diagnose(ctx context.Context, images []types.Image) (types.Assessment, error) {
	if err := e.checkKey(); err != nil {
		return types.Assessment{}, err
	}
	q := url.Values{}
	q.Set("details", diseaseDetails)
	body := requestBody{Images: encodeImages(images)}

	var out apiResponse
	if err := e.post(ctx, "/health_assessment", q, body, "diagnose", &out); err != nil {
		return types.Assessment{}, err
	}
	return mapAssessment(out), nil
}

func (e *Engine) post(ctx context.Context, path string, q url.Values, body requestBody, op string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("plantid: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+path+"?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("plantid: build request: %w", err)
	}
	req.Header.Set("Api-Key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return provider.DoJSON(e.httpc, req, Name, op, out)
}

func encodeImages(images []types.Image) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, base64.StdEncoding.EncodeToString(img.Data))
	}
	return out
}

func (e *Engine) mapSuggestions(in []suggestion) []types.PlantMatch {
	if len(in) > types.MaxMatches {
		in = in[:types.MaxMatches]
	}
	out := make([]types.PlantMatch, 0, len(in))
	for _, s := range in {
		var (
			commonNames []string
			desc        string
			watering    *types.Watering
		)
		if d := s.Details; d != nil {
			commonNames = d.CommonNames
			if d.Description != nil {
				desc = d.Description.Value
			}
			watering = d.Watering
		}

		similar := make([]types.SimilarImage, 0, types.MaxSimilarImages)
		for _, si := range s.SimilarImages {
			if len(similar) == types.MaxSimilarImages {
				break
			}
			similar = append(similar, types.SimilarImage{ID: si.ID, URL: si.URL, Similarity: si.Similarity})
		}

		m := types.PlantMatch{
			Name:           types.DisplayName(commonNames, s.Name),
			ScientificName: s.Name,
			Confidence:     s.Probability,
			Description:    types.Describe(desc, commonNames),
			Care:           types.CareFor(e.care, watering),
			SimilarImages:  similar,
		}
		if e.catalog != nil {
			m.GCIURL, _ = e.catalog.Lookup(s.Name)
		}
		out = append(out, m)
	}
	return out
}

func mapAssessment(out apiResponse) types.Assessment {
	var a types.Assessment
	switch {
	case out.Result.IsHealthy != nil && out.Result.IsHealthy.Binary != nil:
		a.IsHealthy = types.Bool(*out.Result.IsHealthy.Binary)
	case out.Result.Disease.IsHealthy != nil && out.Result.Disease.IsHealthy.Binary != nil:
		a.IsHealthy = types.Bool(*out.Result.Disease.IsHealthy.Binary)
	}

	all := make([]types.HealthDiagnosis, 0, len(out.Result.Disease.Suggestions))
	for _, d := range out.Result.Disease.Suggestions {
		var (
			local, desc, cause string
			treatment          *types.Treatment
		)
		if d.Details != nil {
			local, desc, cause, treatment = d.Details.LocalName, d.Details.Description, d.Details.Cause, d.Details.Treatment
		}
		condition := strings.TrimSpace(local)
		if condition == "" {
			condition = d.Name
		}
		all = append(all, types.HealthDiagnosis{
			Condition:   condition,
			Confidence:  d.Probability,
			Description: types.ConditionDescription(desc, d.Name),
			Treatment:   treatment.Text(),
			Cause:       cause,
		})
	}
	a.Diagnoses = types.FilterDiagnoses(all)
	return a
}
