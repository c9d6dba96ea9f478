package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seznam/gsast-go/internal/config"
)

// GitHubSource enumerates organization/explicit repositories via the
// GitHub REST API. It is the concrete, out-of-core implementation of the
// Source contract (spec.md §1: "only the interfaces are specified").
type GitHubSource struct {
	Token      string
	APIBaseURL string // default https://api.github.com
	HTTPClient *http.Client
}

func (g *GitHubSource) baseURL() string {
	if g.APIBaseURL != "" {
		return g.APIBaseURL
	}
	return "https://api.github.com"
}

func (g *GitHubSource) client() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

type githubRepo struct {
	Name            string    `json:"name"`
	FullName        string    `json:"full_name"`
	CloneURL        string    `json:"clone_url"`
	HTMLURL         string    `json:"html_url"`
	Size            int       `json:"size"` // KB
	Archived        bool      `json:"archived"`
	Fork            bool      `json:"fork"`
	Private         bool      `json:"private"`
	PushedAt        time.Time `json:"pushed_at"`
	CreatedAt       time.Time `json:"created_at"`
	Owner           struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"owner"`
}

// Enumerate lists every repository of the target's organizations plus
// any explicitly named repositories, applies filters, and reports
// progress through status.
func (g *GitHubSource) Enumerate(ctx context.Context, target config.Target, filters config.Filters, status StatusFunc) ([]Descriptor, error) {
	if g.Token == "" {
		return nil, fmt.Errorf("repos: github: %w", ErrAuthMissing)
	}

	var out []Descriptor
	for _, org := range target.Organizations {
		repos, err := g.listOrgRepos(ctx, org)
		if err != nil {
			return nil, fmt.Errorf("repos: github: list %s: %w", org, err)
		}
		for _, r := range repos {
			d := g.toDescriptor(r)
			if MatchesFilters(d, filters) {
				out = append(out, d)
			}
		}
		if status != nil {
			status(fmt.Sprintf("enumerated organization %s: %d repositories", org, len(repos)))
		}
	}
	for _, full := range target.Repositories {
		r, err := g.getRepo(ctx, full)
		if err != nil {
			return nil, fmt.Errorf("repos: github: get %s: %w", full, err)
		}
		d := g.toDescriptor(*r)
		if MatchesFilters(d, filters) {
			out = append(out, d)
		}
		if status != nil {
			status(fmt.Sprintf("enumerated repository %s", full))
		}
	}
	return out, nil
}

func (g *GitHubSource) toDescriptor(r githubRepo) Descriptor {
	return Descriptor{
		Name:         r.Name,
		FullName:     r.FullName,
		CloneURL:     r.CloneURL,
		WebURL:       r.HTMLURL,
		SizeMB:       r.Size / 1024,
		Archived:     r.Archived,
		IsFork:       r.Fork,
		Personal:     r.Owner.Type == "User",
		Private:      r.Private,
		LastActivity: r.PushedAt,
		CreatedAt:    r.CreatedAt,
		Owner:        r.Owner.Login,
	}
}

func (g *GitHubSource) listOrgRepos(ctx context.Context, org string) ([]githubRepo, error) {
	url := fmt.Sprintf("%s/orgs/%s/repos?per_page=100", g.baseURL(), org)
	var repos []githubRepo
	if err := g.getJSON(ctx, url, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

func (g *GitHubSource) getRepo(ctx context.Context, fullName string) (*githubRepo, error) {
	url := fmt.Sprintf("%s/repos/%s", g.baseURL(), fullName)
	var r githubRepo
	if err := g.getJSON(ctx, url, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (g *GitHubSource) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("github api %s: status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
