package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Provider identifies which repository host a Target addresses.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// Target is the tagged-variant repository target described in spec.md
// §6.2/§9: a GitHub target carries organizations/repositories, a GitLab
// target carries groups/repositories, and the two are mutually
// exclusive at the field level.
type Target struct {
	Provider      Provider
	Organizations []string // github only
	Groups        []string // gitlab only
	Repositories  []string
}

// NewTarget validates and constructs a Target from the raw request
// fields, performing every cross-field check spec.md §6.2 requires in
// one place (per spec.md §9's "validation lives in the constructor"
// guidance).
func NewTarget(provider string, organizations, groups, repositories []string) (Target, error) {
	p := Provider(provider)
	switch p {
	case ProviderGitHub:
		if len(groups) > 0 {
			return Target{}, fmt.Errorf("config: target: groups is not valid for provider github")
		}
		if len(organizations) == 0 && len(repositories) == 0 {
			return Target{}, fmt.Errorf("config: target: github requires organizations or repositories")
		}
	case ProviderGitLab:
		if len(organizations) > 0 {
			return Target{}, fmt.Errorf("config: target: organizations is not valid for provider gitlab")
		}
	default:
		return Target{}, fmt.Errorf("config: target: unknown provider %q", provider)
	}
	return Target{Provider: p, Organizations: organizations, Groups: groups, Repositories: repositories}, nil
}

// Filters holds the repository-level filters of spec.md §6.2, with regex
// fields pre-compiled.
type Filters struct {
	IsArchived        *bool
	IsFork            *bool
	IsPersonalProject *bool
	MaxRepoMBSize     *int
	LastCommitMaxAge  *int
	IgnorePathRegexes []*regexp.Regexp
	MustPathRegexes   []*regexp.Regexp
}

// GSASTConfig is the validated form of the POST /scan request's `config`
// field (spec.md §6.2).
type GSASTConfig struct {
	BaseURL      string
	APISecretKey string
	Target       Target
	Filters      Filters
	Scanners     []string
}

// gsastConfigDTO mirrors the wire JSON shape before validation.
type gsastConfigDTO struct {
	BaseURL      string `json:"base_url"`
	APISecretKey string `json:"api_secret_key"`
	Target       struct {
		Provider      string   `json:"provider"`
		Organizations []string `json:"organizations"`
		Groups        []string `json:"groups"`
		Repositories  []string `json:"repositories"`
	} `json:"target"`
	Filters struct {
		IsArchived        *bool    `json:"is_archived"`
		IsFork            *bool    `json:"is_fork"`
		IsPersonalProject *bool    `json:"is_personal_project"`
		MaxRepoMBSize     *int     `json:"max_repo_mb_size"`
		LastCommitMaxAge  *int     `json:"last_commit_max_age"`
		IgnorePathRegexes []string `json:"ignore_path_regexes"`
		MustPathRegexes   []string `json:"must_path_regexes"`
	} `json:"filters"`
	Scanners []string `json:"scanners"`
}

var validScanners = map[string]bool{"semgrep": true, "trufflehog": true, "dependency-confusion": true}

// ParseGSASTConfig decodes and validates raw JSON into a GSASTConfig,
// enforcing every rule in spec.md §6.2.
func ParseGSASTConfig(raw []byte) (*GSASTConfig, error) {
	var dto gsastConfigDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if dto.BaseURL == "" {
		return nil, fmt.Errorf("config: base_url is required")
	}
	if !strings.HasPrefix(dto.BaseURL, "http://") && !strings.HasPrefix(dto.BaseURL, "https://") {
		return nil, fmt.Errorf("config: base_url must start with http:// or https://")
	}

	target, err := NewTarget(dto.Target.Provider, dto.Target.Organizations, dto.Target.Groups, dto.Target.Repositories)
	if err != nil {
		return nil, err
	}

	filters, err := newFilters(dto)
	if err != nil {
		return nil, err
	}

	for _, s := range dto.Scanners {
		if !validScanners[s] {
			return nil, fmt.Errorf("config: unknown scanner %q", s)
		}
	}

	return &GSASTConfig{
		BaseURL:      dto.BaseURL,
		APISecretKey: dto.APISecretKey,
		Target:       target,
		Filters:      filters,
		Scanners:     dto.Scanners,
	}, nil
}

func newFilters(dto gsastConfigDTO) (Filters, error) {
	f := Filters{
		IsArchived:        dto.Filters.IsArchived,
		IsFork:            dto.Filters.IsFork,
		IsPersonalProject: dto.Filters.IsPersonalProject,
		MaxRepoMBSize:     dto.Filters.MaxRepoMBSize,
		LastCommitMaxAge:  dto.Filters.LastCommitMaxAge,
	}
	if f.MaxRepoMBSize != nil && *f.MaxRepoMBSize < 0 {
		return Filters{}, fmt.Errorf("config: max_repo_mb_size must be non-negative")
	}
	if f.LastCommitMaxAge != nil && *f.LastCommitMaxAge < 0 {
		return Filters{}, fmt.Errorf("config: last_commit_max_age must be non-negative")
	}
	for _, pat := range dto.Filters.IgnorePathRegexes {
		re, err := regexp.Compile(pat)
		if err != nil {
			return Filters{}, fmt.Errorf("config: ignore_path_regexes: %w", err)
		}
		f.IgnorePathRegexes = append(f.IgnorePathRegexes, re)
	}
	for _, pat := range dto.Filters.MustPathRegexes {
		re, err := regexp.Compile(pat)
		if err != nil {
			return Filters{}, fmt.Errorf("config: must_path_regexes: %w", err)
		}
		f.MustPathRegexes = append(f.MustPathRegexes, re)
	}
	return f, nil
}
