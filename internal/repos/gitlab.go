package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/seznam/gsast-go/internal/config"
)

// ErrAuthMissing is returned when a Source is invoked without the token
// its provider requires (spec.md §7 AuthMissing).
var ErrAuthMissing = errors.New("repos: provider token missing")

// GitLabSource enumerates group/explicit projects via the GitLab REST
// API.
type GitLabSource struct {
	Token      string
	APIBaseURL string // e.g. https://gitlab.example.com
	HTTPClient *http.Client
}

func (g *GitLabSource) client() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

type gitlabProject struct {
	Name              string    `json:"name"`
	PathWithNamespace string    `json:"path_with_namespace"`
	HTTPURLToRepo     string    `json:"http_url_to_repo"`
	WebURL            string    `json:"web_url"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	CreatedAt         time.Time `json:"created_at"`
	Archived          bool      `json:"archived"`
	ForkedFromProject *struct{} `json:"forked_from_project"`
	Visibility        string    `json:"visibility"`
	Namespace         struct {
		Kind string `json:"kind"`
		Path string `json:"path"`
	} `json:"namespace"`
	StatisticsField *struct {
		RepositorySize int64 `json:"repository_size"`
	} `json:"statistics"`
}

func (g *GitLabSource) Enumerate(ctx context.Context, target config.Target, filters config.Filters, status StatusFunc) ([]Descriptor, error) {
	if g.Token == "" {
		return nil, fmt.Errorf("repos: gitlab: %w", ErrAuthMissing)
	}
	if g.APIBaseURL == "" {
		return nil, fmt.Errorf("repos: gitlab: GITLAB_URL is required")
	}

	var out []Descriptor
	for _, group := range target.Groups {
		projects, err := g.listGroupProjects(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("repos: gitlab: list %s: %w", group, err)
		}
		for _, p := range projects {
			d := g.toDescriptor(p)
			if MatchesFilters(d, filters) {
				out = append(out, d)
			}
		}
		if status != nil {
			status(fmt.Sprintf("enumerated group %s: %d projects", group, len(projects)))
		}
	}
	for _, full := range target.Repositories {
		p, err := g.getProject(ctx, full)
		if err != nil {
			return nil, fmt.Errorf("repos: gitlab: get %s: %w", full, err)
		}
		d := g.toDescriptor(*p)
		if MatchesFilters(d, filters) {
			out = append(out, d)
		}
		if status != nil {
			status(fmt.Sprintf("enumerated project %s", full))
		}
	}
	return out, nil
}

func (g *GitLabSource) toDescriptor(p gitlabProject) Descriptor {
	sizeMB := 0
	if p.StatisticsField != nil {
		sizeMB = int(p.StatisticsField.RepositorySize / (1024 * 1024))
	}
	return Descriptor{
		Name:         p.Name,
		FullName:     p.PathWithNamespace,
		CloneURL:     p.HTTPURLToRepo,
		WebURL:       p.WebURL,
		SizeMB:       sizeMB,
		Archived:     p.Archived,
		IsFork:       p.ForkedFromProject != nil,
		Personal:     p.Namespace.Kind == "user",
		Private:      p.Visibility == "private",
		LastActivity: p.LastActivityAt,
		CreatedAt:    p.CreatedAt,
		Owner:        p.Namespace.Path,
	}
}

func (g *GitLabSource) listGroupProjects(ctx context.Context, group string) ([]gitlabProject, error) {
	u := fmt.Sprintf("%s/api/v4/groups/%s/projects?per_page=100&include_subgroups=true", g.APIBaseURL, url.PathEscape(group))
	var projects []gitlabProject
	if err := g.getJSON(ctx, u, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (g *GitLabSource) getProject(ctx context.Context, full string) (*gitlabProject, error) {
	u := fmt.Sprintf("%s/api/v4/projects/%s", g.APIBaseURL, url.PathEscape(full))
	var p gitlabProject
	if err := g.getJSON(ctx, u, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *GitLabSource) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", g.Token)

	resp, err := g.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gitlab api %s: status %s", u, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
