package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type tokenFileEntry struct {
	Token                string `yaml:"token"`
	UserID               string `yaml:"user_id"`
	ActiveOrganizationID string `yaml:"active_organization_id,omitempty"`
}

type tokenFile struct {
	Tokens []tokenFileEntry `yaml:"tokens"`
}

// LoadTokenFile reads a YAML token table of the form:
//
//	tokens:
//	  - token: "s3cr3t"
//	    user_id: "user-1"
//	    active_organization_id: "org-1"
//
// Entries without a token or user id are rejected, not skipped: a malformed
// file should fail loudly rather than silently lock callers out.
func LoadTokenFile(path string) (map[string]Principal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var file tokenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	tokens := make(map[string]Principal, len(file.Tokens))
	for i, entry := range file.Tokens {
		if entry.Token == "" || entry.UserID == "" {
			return nil, fmt.Errorf("token file entry %d is missing token or user_id", i)
		}
		if _, ok := tokens[entry.Token]; ok {
			return nil, fmt.Errorf("token file entry %d duplicates an earlier token", i)
		}
		tokens[entry.Token] = Principal{
			UserID:               entry.UserID,
			ActiveOrganizationID: entry.ActiveOrganizationID,
		}
	}
	return tokens, nil
}

// Replace swaps the whole token table atomically. Used on token file reload.
func (a *StaticAuthenticator) Replace(tokens map[string]Principal) {
	if tokens == nil {
		tokens = make(map[string]Principal)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = tokens
}
