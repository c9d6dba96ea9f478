package config

import "testing"

func TestParseGSASTConfigHappyPath(t *testing.T) {
	raw := []byte(`{"base_url":"https://h/","target":{"provider":"github","organizations":["acme"]},"scanners":["semgrep"]}`)
	cfg, err := ParseGSASTConfig(raw)
	if err != nil {
		t.Fatalf("ParseGSASTConfig: %v", err)
	}
	if cfg.Target.Provider != ProviderGitHub {
		t.Errorf("provider = %s", cfg.Target.Provider)
	}
}

func TestParseGSASTConfigRequiresBaseURL(t *testing.T) {
	raw := []byte(`{"target":{"provider":"github","organizations":["acme"]}}`)
	if _, err := ParseGSASTConfig(raw); err == nil {
		t.Fatal("expected error for missing base_url")
	}
}

func TestParseGSASTConfigGitHubForbidsGroups(t *testing.T) {
	raw := []byte(`{"base_url":"https://h/","target":{"provider":"github","groups":["g"]}}`)
	if _, err := ParseGSASTConfig(raw); err == nil {
		t.Fatal("expected error: github forbids groups")
	}
}

func TestParseGSASTConfigGitLabForbidsOrganizations(t *testing.T) {
	raw := []byte(`{"base_url":"https://h/","target":{"provider":"gitlab","organizations":["o"],"groups":["g"]}}`)
	if _, err := ParseGSASTConfig(raw); err == nil {
		t.Fatal("expected error: gitlab forbids organizations")
	}
}

func TestParseGSASTConfigGitHubRequiresOrgsOrRepos(t *testing.T) {
	raw := []byte(`{"base_url":"https://h/","target":{"provider":"github"}}`)
	if _, err := ParseGSASTConfig(raw); err == nil {
		t.Fatal("expected error: github requires organizations or repositories")
	}
}

func TestParseGSASTConfigRejectsInvalidRegex(t *testing.T) {
	raw := []byte(`{"base_url":"https://h/","target":{"provider":"github","organizations":["a"]},"filters":{"ignore_path_regexes":["("]}}`)
	if _, err := ParseGSASTConfig(raw); err == nil {
		t.Fatal("expected error: invalid regex")
	}
}

func TestParseGSASTConfigRejectsNegativeSize(t *testing.T) {
	raw := []byte(`{"base_url":"https://h/","target":{"provider":"github","organizations":["a"]},"filters":{"max_repo_mb_size":-1}}`)
	if _, err := ParseGSASTConfig(raw); err == nil {
		t.Fatal("expected error: negative size")
	}
}

func TestParseGSASTConfigRejectsUnknownScanner(t *testing.T) {
	raw := []byte(`{"base_url":"https://h/","target":{"provider":"github","organizations":["a"]},"scanners":["nope"]}`)
	if _, err := ParseGSASTConfig(raw); err == nil {
		t.Fatal("expected error: unknown scanner")
	}
}
