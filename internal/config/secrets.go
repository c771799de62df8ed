package config

import (
	"context"
	"fmt"
	"log"
)

// ParameterGetter reads a decrypted secret by name, e.g. *paramstore.Client.
type ParameterGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ResolveSecrets fills secrets that are configured by parameter name only.
// A key already present in the environment is left untouched.
func (c *Config) ResolveSecrets(ctx context.Context, getter ParameterGetter) error {
	if c.OpenAIAPIKey != "" || c.OpenAIAPIKeyParam == "" {
		return nil
	}
	if getter == nil {
		return fmt.Errorf("%w: OPENAI_API_KEY_PARAM set without a parameter store", ErrMissingSetting)
	}
	value, err := getter.GetParameter(ctx, c.OpenAIAPIKeyParam)
	if err != nil {
		log.Printf("ERROR [Config] ResolveSecrets: failed to read %s: %v", c.OpenAIAPIKeyParam, err)
		return fmt.Errorf("resolve OPENAI_API_KEY from %s: %w", c.OpenAIAPIKeyParam, err)
	}
	c.OpenAIAPIKey = value
	log.Printf("[Config] ResolveSecrets: OPENAI_API_KEY loaded from parameter store")
	return nil
}
