package config

import "testing"

func TestInitLaysOutSubdirectories(t *testing.T) {
	cfg, err := Init()
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}

	if cfg.CacheDir() == "" || cfg.ConfigDir() == "" || cfg.StateDir() == "" {
		t.Fatalf("Init returned empty base directories: %+v", cfg)
	}

	for name, dir := range map[string]string{
		"descriptor": cfg.DescriptorDir(),
		"recipe":     cfg.RecipeDir(),
		"extensions": cfg.ExtensionsDir(),
		"checkouts":  cfg.CheckoutsDir(),
		"mirror":     cfg.MirrorDir(),
	} {
		if dir == "" {
			t.Errorf("%s dir is empty", name)
		}
	}

	if cfg.User() == "" {
		t.Errorf("User() is empty")
	}
	if cfg.HostHome() == "" {
		t.Errorf("HostHome() is empty")
	}
}

func TestDefaultSettingsIsZeroValue(t *testing.T) {
	s := DefaultSettings()
	if s.UpdateExisting || s.UseLocalSources || s.UseMasterIfNoTag || s.ForceStratumGeneration {
		t.Errorf("DefaultSettings should be all-false, got %+v", s)
	}
}
