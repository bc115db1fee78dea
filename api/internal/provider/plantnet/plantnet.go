// Package plantnet talks to the Pl@ntNet v2 identification API. It does not
// offer health assessment.
package plantnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"leafscan/api/internal/logging"
	"leafscan/api/internal/provider"
	"leafscan/api/internal/provider/types"
)

const (
	Name           = "plantnet"
	DefaultBaseURL = "https://my-api.plantnet.org/v2"
)

type Config struct {
	APIKey  string
	BaseURL string
	// Project is the flora to search, "all" by default.
	Project string
	Care    types.CareDefaults
	Catalog types.Catalog
	Timeout time.Duration
}

type Engine struct {
	APIKey  string
	BaseURL string
	Project string
	care    types.CareDefaults
	catalog types.Catalog
	httpc   *http.Client
}

func New(cfg Config) *Engine {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	project := strings.TrimSpace(cfg.Project)
	if project == "" {
		project = "all"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		BaseURL: base,
		Project: project,
		care:    cfg.Care,
		catalog: cfg.Catalog,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (e *Engine) Name() string { return Name }

type taxon struct {
	ScientificNameWithoutAuthor string `json:"scientificNameWithoutAuthor"`
}

type result struct {
	Score   float64 `json:"score"`
	Species struct {
		ScientificName              string   `json:"scientificName"`
		ScientificNameWithoutAuthor string   `json:"scientificNameWithoutAuthor"`
		CommonNames                 []string `json:"commonNames"`
		Family                      *taxon   `json:"family"`
		Genus                       *taxon   `json:"genus"`
	} `json:"species"`
	Images []struct {
		URL struct {
			O string `json:"o"`
			M string `json:"m"`
			S string `json:"s"`
		} `json:"url"`
	} `json:"images"`
}

type apiResponse struct {
	BestMatch                       string   `json:"bestMatch"`
	Results                         []result `json:"results"`
	RemainingIdentificationRequests *int     `json:"remainingIdentificationRequests"`
}

func (e *Engine) Identify(ctx context.Context, images []types.Image) (types.Identification, error) {
	if e.APIKey == "" {
		return types.Identification{}, &types.ConfigError{Provider: Name, Key: "PLANTNET_API_KEY"}
	}

	body, contentType, err := encodeForm(images)
	if err != nil {
		return types.Identification{}, fmt.Errorf("plantnet: encode form: %w", err)
	}

	q := url.Values{}
	q.Set("include-related-images", "true")
	q.Set("no-reject", "false")
	q.Set("nb-results", "3")
	q.Set("lang", "en")
	q.Set("api-key", e.APIKey)
	endpoint := e.BaseURL + "/identify/" + url.PathEscape(e.Project) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return types.Identification{}, fmt.Errorf("plantnet: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var out apiResponse
	if err := provider.DoJSON(e.httpc, req, Name, "identify", &out); err != nil {
		if isSpeciesNotFound(err) {
			return types.Identification{SpeciesDetected: false, Matches: []types.PlantMatch{}}, nil
		}
		return types.Identification{}, err
	}

	if out.RemainingIdentificationRequests != nil {
		logging.Ctx(ctx).Debug().Int("remaining", *out.RemainingIdentificationRequests).Str("best_match", out.BestMatch).Msg("plantnet quota")
	}
	if len(out.Results) == 0 {
		return types.Identification{SpeciesDetected: false, Matches: []types.PlantMatch{}}, nil
	}
	return types.Identification{SpeciesDetected: true, Matches: e.mapResults(out.Results)}, nil
}

// isSpeciesNotFound tells Pl@ntNet's "no plant in the image" answer apart
// from a 404 caused by a wrong project or base URL.
func isSpeciesNotFound(err error) bool {
	var ue *types.UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusNotFound &&
		strings.Contains(strings.ToLower(ue.Message), "species not found")
}

func encodeForm(images []types.Image) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, img := range images {
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("image-%d", i+1)
		}
		mime := img.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, name))
		h.Set("Content-Type", mime)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("organs", "auto"); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (e *Engine) mapResults(in []result) []types.PlantMatch {
	if len(in) > types.MaxMatches {
		in = in[:types.MaxMatches]
	}
	out := make([]types.PlantMatch, 0, len(in))
	for _, r := range in {
		sci := r.Species.ScientificNameWithoutAuthor
		if sci == "" {
			sci = r.Species.ScientificName
		}
		desc := types.Describe("", r.Species.CommonNames)
		if desc == "" {
			desc = taxonomyDescription(r.Species.Family, r.Species.Genus)
		}
		m := types.PlantMatch{
			Name:           types.DisplayName(r.Species.CommonNames, sci),
			ScientificName: sci,
			Confidence:     r.Score,
			Description:    desc,
			Care:           types.CareFor(e.care, nil),
			SimilarImages:  []types.SimilarImage{},
		}
		if len(r.Images) > 0 {
			m.ImageURL = r.Images[0].URL.M
		}
		if e.catalog != nil {
			m.GCIURL, _ = e.catalog.Lookup(sci)
		}
		out = append(out, m)
	}
	return out
}

func taxonomyDescription(family, genus *taxon) string {
	var f, g string
	if family != nil {
		f = family.ScientificNameWithoutAuthor
	}
	if genus != nil {
		g = genus.ScientificNameWithoutAuthor
	}
	switch {
	case f != "" && g != "":
		return fmt.Sprintf("%s family, genus %s.", f, g)
	case f != "":
		return f + " family."
	case g != "":
		return "Genus " + g + "."
	}
	return ""
}
