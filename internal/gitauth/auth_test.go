package gitauth

import (
	"context"
	"errors"
	"testing"

	"github.com/seznam/gsast-go/internal/config"
)

func TestForProviderMissingGitHubToken(t *testing.T) {
	_, err := ForProvider(context.Background(), config.ProviderGitHub, config.Env{}, nil)
	if !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("err = %v, want ErrTokenMissing", err)
	}
}

func TestForProviderMissingGitLabToken(t *testing.T) {
	_, err := ForProvider(context.Background(), config.ProviderGitLab, config.Env{}, nil)
	if !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("err = %v, want ErrTokenMissing", err)
	}
}

func TestForProviderGitHubToken(t *testing.T) {
	auth, err := ForProvider(context.Background(), config.ProviderGitHub, config.Env{GitHubToken: "tok"}, nil)
	if err != nil {
		t.Fatalf("ForProvider: %v", err)
	}
	if auth.Password != "tok" {
		t.Errorf("password = %q, want tok", auth.Password)
	}
}

func TestForProviderGitLabUsesOauth2Username(t *testing.T) {
	auth, err := ForProvider(context.Background(), config.ProviderGitLab, config.Env{GitLabToken: "tok"}, nil)
	if err != nil {
		t.Fatalf("ForProvider: %v", err)
	}
	if auth.Username != "oauth2" {
		t.Errorf("username = %q, want oauth2", auth.Username)
	}
}

func TestGitHubAppTokenRequiresIDs(t *testing.T) {
	_, err := GitHubAppToken(context.Background(), GitHubAppConfig{})
	if err == nil {
		t.Fatal("expected error for missing app id/installation id")
	}
}
