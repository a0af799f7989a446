package knx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeMappingFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knx.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}
	return path
}

func TestLoadMappings(t *testing.T) {
	path := writeMappingFile(t, `
zones:
  - zone: 1
    functions:
      volume: {ga: "2/1/1", status_ga: "2/1/2", dpt: "5.001"}
      play:   {ga: "2/1/3", status_ga: "2/1/4", dpt: "1.001"}
      mute:   {ga: "2/1/5", dpt: "1.001"}
clients:
  - client: 1
    functions:
      volume:    {ga: "2/2/1", dpt: "5.001"}
      connected: {status_ga: "2/2/2", dpt: "1.001"}
`)

	cfg, err := LoadMappings(path)
	if err != nil {
		t.Fatalf("LoadMappings() error = %v", err)
	}
	if len(cfg.Zones) != 1 || len(cfg.Clients) != 1 {
		t.Fatalf("zones = %d clients = %d", len(cfg.Zones), len(cfg.Clients))
	}
	if len(cfg.Zones[0].Functions) != 3 {
		t.Errorf("zone functions = %d, want 3", len(cfg.Zones[0].Functions))
	}
}

func TestLoadMappings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"unknown function",
			"zones:\n  - zone: 1\n    functions:\n      colour: {ga: \"1/1/1\", dpt: \"1.001\"}\n",
		},
		{
			"wrong dpt for volume",
			"zones:\n  - zone: 1\n    functions:\n      volume: {ga: \"1/1/1\", dpt: \"1.001\"}\n",
		},
		{
			"no addresses",
			"zones:\n  - zone: 1\n    functions:\n      mute: {dpt: \"1.001\"}\n",
		},
		{
			"bad group address",
			"zones:\n  - zone: 1\n    functions:\n      mute: {ga: \"99/1/1\", dpt: \"1.001\"}\n",
		},
		{
			"zone index zero",
			"zones:\n  - zone: 0\n    functions:\n      mute: {ga: \"1/1/1\", dpt: \"1.001\"}\n",
		},
		{
			"connected with command ga",
			"clients:\n  - client: 1\n    functions:\n      connected: {ga: \"1/1/1\", dpt: \"1.001\"}\n",
		},
		{
			"play on client",
			"clients:\n  - client: 1\n    functions:\n      play: {ga: \"1/1/1\", dpt: \"1.001\"}\n",
		},
		{
			"duplicate command ga",
			"zones:\n  - zone: 1\n    functions:\n      mute: {ga: \"1/1/1\", dpt: \"1.001\"}\n  - zone: 2\n    functions:\n      mute: {ga: \"1/1/1\", dpt: \"1.001\"}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeMappingFile(t, tt.content)
			_, err := LoadMappings(path)
			if err == nil {
				t.Fatal("LoadMappings() should fail")
			}
			if !errors.Is(err, ErrInvalidMapping) {
				t.Errorf("error = %v, want ErrInvalidMapping", err)
			}
		})
	}
}

func TestLoadMappings_MissingFile(t *testing.T) {
	if _, err := LoadMappings(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadMappings() should fail for missing file")
	}
}
