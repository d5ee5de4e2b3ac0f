package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ajazfarhad/chainofcustody/custody"
)

// UserSeed is one account in a users file. Token is the clear bearer
// token; only its digest is stored.
type UserSeed struct {
	ID         string `yaml:"id"`
	Username   string `yaml:"username"`
	FullName   string `yaml:"full_name"`
	Role       string `yaml:"role"`
	Department string `yaml:"department"`
	Active     *bool  `yaml:"active"`
	Token      string `yaml:"token"`
}

// User returns the account; Active defaults to true.
func (u UserSeed) User() custody.User {
	active := true
	if u.Active != nil {
		active = *u.Active
	}
	return custody.User{
		ID:         u.ID,
		Username:   u.Username,
		FullName:   u.FullName,
		Role:       u.Role,
		Department: u.Department,
		Active:     active,
	}
}

// LoadUsers reads a YAML list of accounts to provision at startup.
func LoadUsers(path string) ([]UserSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading users %s: %w", path, err)
	}
	var doc struct {
		Users []UserSeed `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing users %s: %w", path, err)
	}

	seen := make(map[string]bool, len(doc.Users))
	for i, u := range doc.Users {
		if u.ID == "" || u.Username == "" || u.Role == "" {
			return nil, fmt.Errorf("users %s: entry %d needs id, username and role", path, i)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("users %s: duplicate id %q", path, u.ID)
		}
		seen[u.ID] = true
	}
	return doc.Users, nil
}
