package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ajazfarhad/chainofcustody/rbac"
)

// Policy is the runtime policy document: roles with their permissions and
// the evidence lifecycle. The on-disk form is the original demo_config.json
// layout (JSON with comments) or the same structure in YAML.
type Policy struct {
	Roles     []rbac.Role     `json:"roles" yaml:"roles"`
	Lifecycle LifecycleConfig `json:"evidence_lifecycle" yaml:"evidence_lifecycle"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
}

type LifecycleConfig struct {
	Statuses                    []string `json:"statuses" yaml:"statuses"`
	RetentionDays               int      `json:"retention_days" yaml:"retention_days"`
	AutoArchive                 bool     `json:"auto_archive" yaml:"auto_archive"`
	DestructionRequiresApproval bool     `json:"destruction_requires_approval" yaml:"destruction_requires_approval"`
	CertificateOfDestruction    bool     `json:"certificate_of_destruction" yaml:"certificate_of_destruction"`
}

type SecurityConfig struct {
	MFAEnabled          bool   `json:"mfa_enabled" yaml:"mfa_enabled"`
	SessionTimeoutMin   int    `json:"session_timeout_min" yaml:"session_timeout_min"`
	EncryptionAlgorithm string `json:"encryption_algorithm" yaml:"encryption_algorithm"`
	TLSVersion          string `json:"tls_version" yaml:"tls_version"`
}

// ErrNoStatuses is returned when the policy defines no lifecycle statuses.
var ErrNoStatuses = errors.New("policy defines no evidence lifecycle statuses")

func (p Policy) Role(name string) (rbac.Role, bool, error) {
	return rbac.Roles(p.Roles).Role(name)
}

func (p Policy) ValidStatuses() ([]string, error) {
	if len(p.Lifecycle.Statuses) == 0 {
		return nil, ErrNoStatuses
	}
	return append([]string(nil), p.Lifecycle.Statuses...), nil
}

// ParsePolicy decodes a policy document. format is "yaml" or "json";
// JSON input may carry comments and trailing commas.
func ParsePolicy(data []byte, format string) (Policy, error) {
	var p Policy
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("parsing policy: %w", err)
		}
	case "json":
		if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
			return Policy{}, fmt.Errorf("parsing policy: %w", err)
		}
	default:
		return Policy{}, fmt.Errorf("unknown policy format %q", format)
	}

	seen := make(map[string]bool, len(p.Roles))
	for _, r := range p.Roles {
		if r.Name == "" {
			return Policy{}, errors.New("policy role without a name")
		}
		if seen[r.Name] {
			return Policy{}, fmt.Errorf("policy defines role %q twice", r.Name)
		}
		seen[r.Name] = true
	}
	return p, nil
}

// PolicyFile reads the policy from disk on every call. Edits to the file
// take effect on the next lookup; nothing is cached.
type PolicyFile struct {
	Path string
}

func (f PolicyFile) Load() (Policy, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading %s: %w", f.Path, err)
	}
	p, err := ParsePolicy(data, policyFormat(f.Path))
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	return p, nil
}

func (f PolicyFile) Role(name string) (rbac.Role, bool, error) {
	p, err := f.Load()
	if err != nil {
		return rbac.Role{}, false, err
	}
	return p.Role(name)
}

func (f PolicyFile) ValidStatuses() ([]string, error) {
	p, err := f.Load()
	if err != nil {
		return nil, err
	}
	return p.ValidStatuses()
}

func policyFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
