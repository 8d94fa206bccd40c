package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"checkline/internal/domain"
)

// Config models checkline.yml.
type Config struct {
	Server struct {
		Addr          string `yaml:"addr"`
		BasePath      string `yaml:"base_path"`
		JWTSecret     string `yaml:"jwt_secret"`
		EnableDevAuth bool   `yaml:"enable_dev_auth"`
	} `yaml:"server"`
	Catalog struct {
		Sections []Section `yaml:"sections"`
	} `yaml:"catalog"`
	Report struct {
		OutputDir string `yaml:"output_dir"`
	} `yaml:"report"`
}

type Section struct {
	Name     string          `yaml:"name"`
	Controls []ControlConfig `yaml:"controls"`
}

type ControlConfig struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Implementation string   `yaml:"implementation"`
	Risk           string   `yaml:"risk"`
	References     []string `yaml:"references"`
}

// Controls flattens the catalog sections into the ordered control list,
// preserving section declaration order.
func (c *Config) Controls() []domain.Control {
	var out []domain.Control
	for _, sec := range c.Catalog.Sections {
		for _, cc := range sec.Controls {
			out = append(out, domain.Control{
				ID:             cc.ID,
				Section:        sec.Name,
				Title:          cc.Title,
				Description:    cc.Description,
				Implementation: cc.Implementation,
				RiskLevel:      domain.RiskLevel(cc.Risk),
				References:     cc.References,
			})
		}
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Catalog.Sections) == 0 {
		return fmt.Errorf("config.catalog.sections is required")
	}
	seen := map[string]bool{}
	for _, sec := range c.Catalog.Sections {
		if sec.Name == "" {
			return fmt.Errorf("config.catalog contains a section with no name")
		}
		if len(sec.Controls) == 0 {
			return fmt.Errorf("section %s has no controls", sec.Name)
		}
		for _, cc := range sec.Controls {
			if cc.ID == "" {
				return fmt.Errorf("section %s has a control with no id", sec.Name)
			}
			if seen[cc.ID] {
				return fmt.Errorf("duplicate control id %s", cc.ID)
			}
			seen[cc.ID] = true
			if cc.Title == "" {
				return fmt.Errorf("control %s has no title", cc.ID)
			}
			if !domain.RiskLevel(cc.Risk).Valid() {
				return fmt.Errorf("control %s has invalid risk %q", cc.ID, cc.Risk)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "checkline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in config with the stock catalog.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	applyDefaults(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8484"
	}
	if cfg.Server.BasePath == "" {
		cfg.Server.BasePath = "/v0"
	}
	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = "."
	}
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8484
  base_path: /v0
  jwt_secret: ""
  enable_dev_auth: true

report:
  output_dir: .

catalog:
  sections:
    - name: Access Control
      controls:
        - id: AC-1
          title: Unique accounts per operator
          description: "Every operator signs in with an individual account; shared logins are prohibited."
          implementation: "Audit the user directory for shared or generic accounts and disable them."
          risk: high
          references: ["CIS 5.1", "ISO 27001 A.9.2"]
        - id: AC-2
          title: Multi-factor authentication enforced
          description: "MFA is required for all remote and privileged access."
          implementation: "Enable MFA enforcement in the identity provider for all user groups."
          risk: high
          references: ["CIS 6.3"]
        - id: AC-3
          title: Quarterly access review
          description: "Access rights are reviewed at least quarterly and revocations are recorded."
          implementation: "Export the entitlement report and have team leads sign off."
          risk: medium
          references: ["ISO 27001 A.9.2.5"]
    - name: Data Protection
      controls:
        - id: DP-1
          title: Disk encryption at rest
          description: "All managed devices encrypt local storage."
          implementation: "Verify FileVault/BitLocker/LUKS status via the device management agent."
          risk: high
          references: ["CIS 3.11"]
        - id: DP-2
          title: Backups tested
          description: "Backups run on schedule and a restore was exercised in the last 90 days."
          implementation: "Check the backup job history and the latest restore drill record."
          risk: medium
          references: ["CIS 11.5"]
    - name: Network Security
      controls:
        - id: NS-1
          title: Host firewall enabled
          description: "The device firewall is active with a default-deny inbound policy."
          implementation: "Query the firewall state via the management agent."
          risk: medium
          references: ["CIS 4.5"]
        - id: NS-2
          title: Unused services disabled
          description: "No listening services beyond the approved baseline."
          implementation: "Compare open ports against the baseline list."
          risk: low
          references: ["CIS 4.8"]
`
