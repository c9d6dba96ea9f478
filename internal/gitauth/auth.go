// Package gitauth builds go-git transport.AuthMethod values for the
// repository clone step (spec.md §4.7 step 3) from the provider tokens
// described in spec.md §6.4.
package gitauth

import (
	"context"
	"errors"
	"fmt"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/seznam/gsast-go/internal/config"
)

// ErrTokenMissing is returned when a clone targets a provider for which
// no token is configured (spec.md §7 AuthMissing).
var ErrTokenMissing = errors.New("gitauth: provider token missing")

// HTTPSAuth builds a basic-auth credential for an https clone URL. GitHub
// expects any non-empty username with the token as password; GitLab
// conventionally uses "oauth2".
func HTTPSAuth(username, token string) *githttp.BasicAuth {
	if username == "" {
		username = "x-access-token"
	}
	return &githttp.BasicAuth{Username: username, Password: token}
}

// ForProvider resolves the auth method a clone of the given provider
// should use, from the environment variables of spec.md §6.4. A missing
// token returns ErrTokenMissing; the worker calls this at clone time, so
// the job for that project fails (spec.md §7 AuthMissing). githubApp, if
// non-nil, is tried before the plain GITHUB_API_TOKEN env var.
func ForProvider(ctx context.Context, provider config.Provider, env config.Env, githubApp *GitHubAppConfig) (*githttp.BasicAuth, error) {
	switch provider {
	case config.ProviderGitHub:
		if githubApp != nil {
			token, err := GitHubAppToken(ctx, *githubApp)
			if err != nil {
				return nil, fmt.Errorf("gitauth: github app: %w", err)
			}
			return HTTPSAuth("x-access-token", token), nil
		}
		if env.GitHubToken == "" {
			return nil, fmt.Errorf("gitauth: %w: GITHUB_API_TOKEN", ErrTokenMissing)
		}
		return HTTPSAuth("x-access-token", env.GitHubToken), nil
	case config.ProviderGitLab:
		if env.GitLabToken == "" {
			return nil, fmt.Errorf("gitauth: %w: GITLAB_API_TOKEN", ErrTokenMissing)
		}
		return HTTPSAuth("oauth2", env.GitLabToken), nil
	default:
		return nil, fmt.Errorf("gitauth: unknown provider %q", provider)
	}
}
