package secrets

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/failure"
	"gopkg.in/yaml.v3"
)

// ClientConfig is the OAuth client registration used for the authorization code flow.
type ClientConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURI      string   `yaml:"auth_uri"`
	TokenURI     string   `yaml:"token_uri"`
	RedirectURIs []string `yaml:"redirect_uris"`
}

// clientSecretFile mirrors the client_secret.json layout downloaded from the
// Google console, where the registration sits under "web" or "installed".
// Flat payloads are accepted as well.
type clientSecretFile struct {
	Web       *ClientConfig `yaml:"web"`
	Installed *ClientConfig `yaml:"installed"`
	ClientConfig `yaml:",inline"`
}

// ParseClientConfig decodes a JSON or YAML secret payload.
func ParseClientConfig(payload []byte) (ClientConfig, error) {
	// JSON may be tab-indented, which YAML rejects. Raw tabs cannot occur
	// inside JSON strings, so replacing them is lossless.
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '{' {
		payload = bytes.ReplaceAll(trimmed, []byte("\t"), []byte(" "))
	}

	var file clientSecretFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return ClientConfig{}, fmt.Errorf("decode client config: %w", err)
	}

	cfg := file.ClientConfig
	switch {
	case file.Web != nil:
		cfg = *file.Web
	case file.Installed != nil:
		cfg = *file.Installed
	}

	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return ClientConfig{}, fmt.Errorf("client config is missing client_id or client_secret")
	}
	return cfg, nil
}

// Provider fetches and caches the client configuration for the lifetime of
// the process. A failed fetch is not cached so a later request can retry.
type Provider struct {
	store   Store
	name    string
	timeout time.Duration

	mu     sync.Mutex
	cached *ClientConfig
}

func NewProvider(store Store, name string, timeout time.Duration) *Provider {
	return &Provider{store: store, name: name, timeout: timeout}
}

// OAuthConfig returns the client configuration or a ConfigUnavailable failure.
func (p *Provider) OAuthConfig(ctx context.Context) (ClientConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return *p.cached, nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	payload, err := p.store.Get(ctx, p.name)
	if err != nil {
		log.Printf("[Secrets] Failed to fetch %s: %v", p.name, err)
		return ClientConfig{}, failure.New(failure.ConfigUnavailable, "fetch secret", err)
	}

	cfg, err := ParseClientConfig(payload)
	if err != nil {
		log.Printf("[Secrets] Malformed payload in %s: %v", p.name, err)
		return ClientConfig{}, failure.New(failure.ConfigUnavailable, "parse secret", err)
	}

	p.cached = &cfg
	log.Printf("[Secrets] Loaded OAuth client config from %s", p.name)
	return cfg, nil
}
