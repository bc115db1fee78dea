package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupCaseInsensitive(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want, ok := c.Lookup("Rosa chinensis")
	if !ok {
		t.Fatal("Rosa chinensis missing from embedded catalog")
	}
	got, ok := c.Lookup("rosa CHINENSIS")
	if !ok || got != want {
		t.Errorf("Lookup(rosa CHINENSIS) = %q, %v; want %q", got, ok, want)
	}
}

func TestLookupNoFuzzyMatch(t *testing.T) {
	c := New([]Page{{Name: "Rosa chinensis", URL: "https://x/rosa"}})
	for _, name := range []string{"Rosa", "Rosa chinensis L.", " Rosa chinensis", ""} {
		if u, ok := c.Lookup(name); ok {
			t.Errorf("Lookup(%q) = %q, want no match", name, u)
		}
	}
}

func TestNewFirstWins(t *testing.T) {
	c := New([]Page{
		{Name: "Aloe vera", URL: "https://x/first"},
		{Name: "ALOE VERA", URL: "https://x/second"},
		{Name: "Empty", URL: ""},
	})
	if u, _ := c.Lookup("aloe vera"); u != "https://x/first" {
		t.Errorf("got %q", u)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.json")
	if err := os.WriteFile(path, []byte(`[{"name":"Ficus elastica","url":"https://x/ficus"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := c.Lookup("Rosa chinensis"); ok {
		t.Error("override should replace the embedded catalog")
	}
	if u, ok := c.Lookup("ficus ELASTICA"); !ok || u != "https://x/ficus" {
		t.Errorf("Lookup = %q, %v", u, ok)
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if _, ok := c.Lookup("Rosa chinensis"); ok {
		t.Error("nil catalog should never match")
	}
}
