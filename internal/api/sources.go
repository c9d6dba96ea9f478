package api

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/repos"
)

// defaultSourceFactory resolves a repos.Source per request from the
// provider named in GSASTConfig.Target, using env-sourced tokens
// (spec.md §6.4) and an optional custom CA bundle, mirroring the
// teacher's layered transport construction in gitauth.
func defaultSourceFactory(cfg *config.Config) func(config.Provider) (repos.Source, error) {
	env := config.LoadEnv()
	client := httpClientForEnv(env)

	return func(provider config.Provider) (repos.Source, error) {
		switch provider {
		case config.ProviderGitHub:
			if env.GitHubToken == "" {
				return nil, fmt.Errorf("api: %w: GITHUB_API_TOKEN", repos.ErrAuthMissing)
			}
			return &repos.GitHubSource{Token: env.GitHubToken, HTTPClient: client}, nil
		case config.ProviderGitLab:
			if env.GitLabToken == "" {
				return nil, fmt.Errorf("api: %w: GITLAB_API_TOKEN", repos.ErrAuthMissing)
			}
			return &repos.GitLabSource{Token: env.GitLabToken, APIBaseURL: env.GitLabURL, HTTPClient: client}, nil
		default:
			return nil, fmt.Errorf("api: unknown provider %q", provider)
		}
	}
}

func httpClientForEnv(env config.Env) *http.Client {
	if env.CABundle == "" {
		return http.DefaultClient
	}
	pem, err := os.ReadFile(env.CABundle)
	if err != nil {
		return http.DefaultClient
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return http.DefaultClient
	}
	return &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
}
