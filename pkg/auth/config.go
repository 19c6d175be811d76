package auth

import "repowatch/pkg/platform"

// Config contains per-platform API configuration.
type Config struct {
	GitHub      ProviderConfig `yaml:"github"`
	GitLab      ProviderConfig `yaml:"gitlab"`
	Bitbucket   ProviderConfig `yaml:"bitbucket"`
	SourceForge ProviderConfig `yaml:"sourceforge"`
}

// ProviderConfig contains API settings for one platform.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// TokenEnv names an environment variable consulted when no token is stored.
	TokenEnv string `yaml:"token_env"`
	BaseURL  string `yaml:"base_url"`
}

// For returns the settings of p. Unknown platforms yield the zero value.
func (c Config) For(p platform.Platform) ProviderConfig {
	switch p {
	case platform.GitHub:
		return c.GitHub
	case platform.GitLab:
		return c.GitLab
	case platform.Bitbucket:
		return c.Bitbucket
	case platform.SourceForge:
		return c.SourceForge
	default:
		return ProviderConfig{}
	}
}

// BaseURL returns the configured API base URL or the platform default.
func (c Config) BaseURL(p platform.Platform) string {
	if base := c.For(p).BaseURL; base != "" {
		return base
	}
	return p.APIBaseURL()
}
