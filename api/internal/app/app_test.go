package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"leafscan/api/internal/compose"
	"leafscan/api/internal/config"
	"leafscan/api/internal/provider/types"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("PLANT_ID_API_KEY", "")
	t.Setenv("PLANTNET_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestBuildWithoutDatabase(t *testing.T) {
	a, err := Build(context.Background(), loadConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.DB != nil || a.Sink != nil || a.History != nil {
		t.Error("history wired without a database")
	}
	if got := strings.Join(a.Registry.IdentifierNames(), ","); got != "gemini,plantid,plantnet" {
		t.Errorf("identifiers = %s", got)
	}
	if d, ok := a.Registry.Diagnoser(); !ok || d.Name() != "plantid" {
		t.Errorf("diagnoser = %v, %v", d, ok)
	}
	if a.Catalog.Len() == 0 {
		t.Error("embedded catalog is empty")
	}
}

func TestMissingKeysSurfacePerRequest(t *testing.T) {
	a, err := Build(context.Background(), loadConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	img := []types.Image{{Data: []byte{0xff, 0xd8, 0xff}, MIME: "image/jpeg"}}

	for _, p := range []string{"", "plantnet", "gemini"} {
		_, err := a.Composer.Identify(context.Background(), compose.Request{Images: img, Provider: p})
		var ce *types.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("provider %q: err = %v", p, err)
		}
	}
}
