package telegram

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"leafscan/api/internal/provider/types"
)

// FormatResult renders an identification as a Markdown message.
func FormatResult(res types.IdentifyResult, limit int) string {
	var b strings.Builder
	if len(res.Matches) == 0 {
		b.WriteString("I could not find a plant in this photo. Try a closer shot of the leaves or flowers.\n")
	}
	for i, m := range res.Matches {
		if i == 0 {
			fmt.Fprintf(&b, "🌿 *%s* (_%s_) %d%%\n", esc(m.Name), esc(m.ScientificName), percent(m.Confidence))
			if d := strings.TrimSpace(m.Description); d != "" {
				b.WriteString(esc(d))
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "\n☀️ %s\n💧 %s\n🪴 %s\n", esc(m.Care.Light), esc(m.Care.Water), esc(m.Care.Soil))
			if m.GCIURL != "" {
				fmt.Fprintf(&b, "🔗 %s\n", m.GCIURL)
			}
			if len(res.Matches) > 1 {
				b.WriteString("\nOther candidates:\n")
			}
			continue
		}
		fmt.Fprintf(&b, "%d. %s (_%s_) %d%%\n", i+1, esc(m.Name), esc(m.ScientificName), percent(m.Confidence))
	}

	if res.IsHealthy != nil {
		b.WriteString("\n")
		if *res.IsHealthy {
			b.WriteString("✅ Looks healthy.\n")
		} else {
			b.WriteString("⚠️ Possible problems:\n")
		}
	}
	for _, d := range res.HealthDiagnoses {
		fmt.Fprintf(&b, "• *%s* %d%%: %s\n", esc(d.Condition), percent(d.Confidence), esc(d.Treatment))
	}

	fmt.Fprintf(&b, "\nScans left today: %d of %d.", res.RemainingQuota, limit)
	return b.String()
}

// ErrorText is the message shown to the chat for a failed identification.
func ErrorText(err error) string {
	var (
		ce *types.ConfigError
		qe *types.QuotaExceededError
		ve *types.ValidationError
		ue *types.UpstreamError
	)
	switch {
	case errors.As(err, &qe):
		return qe.Error()
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ce):
		return "Plant identification is not configured on this server."
	case errors.As(err, &ue):
		return fmt.Sprintf("Plant identification service returned an error (%d).", ue.Status)
	default:
		return "An unexpected error occurred."
	}
}

func percent(c float64) int { return int(math.Round(c * 100)) }

// esc makes s safe inside legacy Markdown.
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
