package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

func TestLoadCampaign(t *testing.T) {
	path := filepath.Join("testdata", "campaign.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Name != "ttw" {
		t.Fatalf("expected name ttw, got %q", cfg.Name)
	}
	if len(cfg.Years) != 2 || cfg.Years[1] != "2018" {
		t.Fatalf("unexpected years %v", cfg.Years)
	}
	if cfg.Condor.CPUs != 2 || cfg.Condor.MaxRuntime != 3*time.Hour {
		t.Fatalf("unexpected condor settings %+v", cfg.Condor)
	}
	if cfg.LedgerPath != filepath.Join("testdata", "jobs.db") {
		t.Fatalf("expected ledger relative to config, got %q", cfg.LedgerPath)
	}
	if cfg.SSH.Timeout != 10*time.Second {
		t.Fatalf("expected ssh timeout override, got %v", cfg.SSH.Timeout)
	}
	exe, ok := cfg.Executable("fillhists")
	if !ok || len(exe.Args) != 6 {
		t.Fatalf("expected fillhists executable, got %+v", exe)
	}
}

func TestLoadKeepsDefaultsForUndefinedKeys(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "campaign.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Condor.Schedd != "" {
		t.Fatalf("expected empty schedd, got %q", cfg.Condor.Schedd)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "unknown_key.toml"))
	if err == nil {
		t.Fatalf("expected error for misspelled key")
	}
	if !anaerr.IsKind(err, anaerr.KindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "absent.toml"))
	if !anaerr.IsKind(err, anaerr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CMSANA_PROXY", "/tmp/proxy")
	t.Setenv("CMSANA_LEDGER", "/tmp/ledger.db")
	cfg, err := Load(filepath.Join("testdata", "campaign.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Condor.Proxy != "/tmp/proxy" {
		t.Fatalf("expected env proxy, got %q", cfg.Condor.Proxy)
	}
	if cfg.LedgerPath != "/tmp/ledger.db" {
		t.Fatalf("expected env ledger, got %q", cfg.LedgerPath)
	}
}

func TestRegionsNamed(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "campaign.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	regions := cfg.RegionsNamed([]string{"ttz", "npcontrolregion"})
	if len(regions) != 2 {
		t.Fatalf("expected two regions, got %d", len(regions))
	}
	if regions[0].Selection != "wzcontrolregion_ttz" {
		t.Fatalf("expected configured selection, got %q", regions[0].Selection)
	}
	if regions[1].Selection != "npcontrolregion" {
		t.Fatalf("expected name as selection fallback, got %q", regions[1].Selection)
	}
	if all := cfg.RegionsNamed(nil); len(all) != 2 {
		t.Fatalf("expected all configured regions, got %d", len(all))
	}
}

func TestValidateDuplicateRegion(t *testing.T) {
	cfg := Default()
	cfg.Regions = []Region{{Name: "sr"}, {Name: "sr"}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate region error")
	}
}
