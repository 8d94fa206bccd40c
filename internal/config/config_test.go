package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	controls := cfg.Controls()
	if len(controls) == 0 {
		t.Fatal("default catalog empty")
	}
	// Section order must follow declaration order.
	if controls[0].Section != "Access Control" {
		t.Fatalf("first section = %s", controls[0].Section)
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	yaml := `
catalog:
  sections:
    - name: A
      controls:
        - {id: X-1, title: one, risk: low}
        - {id: X-1, title: two, risk: low}
`
	_, err := FromYAML([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRejectsBadRisk(t *testing.T) {
	yaml := `
catalog:
  sections:
    - name: A
      controls:
        - {id: X-1, title: one, risk: scary}
`
	_, err := FromYAML([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "risk") {
		t.Fatalf("err = %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	yaml := `
catalog:
  sections:
    - name: A
      controls:
        - {id: X-1, title: one, risk: low}
`
	cfg, err := FromYAML([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:8484" || cfg.Server.BasePath != "/v0" {
		t.Fatalf("server defaults = %+v", cfg.Server)
	}
	if cfg.Report.OutputDir != "." {
		t.Fatalf("output dir = %s", cfg.Report.OutputDir)
	}
}
