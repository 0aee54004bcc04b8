package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Credential pairs a consumer identifier with its shared secret. Secrets are
// provisioned by hawkctl keygen and are immutable once loaded.
type Credential struct {
	ID        string `toml:"id"`
	Secret    string `toml:"secret"`
	SecretEnv string `toml:"secretEnv"`
}

type credentialsFile struct {
	Consumers []Credential `toml:"consumers"`
}

// CredentialStore holds the consumer shared secrets for the lifetime of the
// process. It is read-only after construction so lookups need no locking.
type CredentialStore struct {
	secrets map[string]string
}

// NewCredentialStore builds a store from an id→secret map. Entries with an
// empty id or secret are dropped.
func NewCredentialStore(secrets map[string]string) *CredentialStore {
	cloned := make(map[string]string, len(secrets))
	for id, secret := range secrets {
		id = strings.TrimSpace(id)
		secret = strings.TrimSpace(secret)
		if id == "" || secret == "" {
			continue
		}
		cloned[id] = secret
	}
	return &CredentialStore{secrets: cloned}
}

// LoadCredentials reads a TOML credentials file. A consumer either carries
// its secret inline or names an environment variable holding it; the
// environment indirection keeps secrets out of files checked into deploy
// repositories.
func LoadCredentials(path string) (*CredentialStore, error) {
	var file credentialsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode credentials file: %w", err)
	}
	secrets := make(map[string]string, len(file.Consumers))
	for i, consumer := range file.Consumers {
		id := strings.TrimSpace(consumer.ID)
		if id == "" {
			return nil, fmt.Errorf("consumers[%d]: id is required", i)
		}
		secret := strings.TrimSpace(consumer.Secret)
		if env := strings.TrimSpace(consumer.SecretEnv); env != "" {
			if secret != "" {
				return nil, fmt.Errorf("consumer %s: secret and secretEnv are mutually exclusive", id)
			}
			secret = strings.TrimSpace(os.Getenv(env))
			if secret == "" {
				return nil, fmt.Errorf("consumer %s: environment variable %s is not set", id, env)
			}
		}
		if secret == "" {
			return nil, fmt.Errorf("consumer %s: secret or secretEnv is required", id)
		}
		if _, dup := secrets[id]; dup {
			return nil, fmt.Errorf("consumer %s: duplicate id", id)
		}
		secrets[id] = secret
	}
	return &CredentialStore{secrets: secrets}, nil
}

// Secret returns the shared secret for a consumer identifier.
func (s *CredentialStore) Secret(id string) (string, bool) {
	secret, ok := s.secrets[id]
	return secret, ok
}

// Len reports the number of provisioned consumers.
func (s *CredentialStore) Len() int {
	return len(s.secrets)
}
