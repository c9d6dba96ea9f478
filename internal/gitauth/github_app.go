package gitauth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GitHubAppConfig enables GitHub App installation-token auth as a richer
// alternative to a static GITHUB_API_TOKEN, for deployments that prefer
// short-lived, installation-scoped credentials.
type GitHubAppConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPEM  string
	PrivateKeyPath string
	APIBaseURL     string // default https://api.github.com
}

type appTokenCache struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
}

var tokenCache sync.Map

// GitHubAppToken returns a cached installation access token, refreshing
// it once it is within two minutes of expiry.
func GitHubAppToken(ctx context.Context, cfg GitHubAppConfig) (string, error) {
	if cfg.AppID == 0 || cfg.InstallationID == 0 {
		return "", fmt.Errorf("gitauth: github app: app_id and installation_id required")
	}

	cacheKey := fmt.Sprintf("%d:%d", cfg.AppID, cfg.InstallationID)
	if cached, ok := tokenCache.Load(cacheKey); ok {
		c := cached.(*appTokenCache)
		c.mu.Lock()
		if c.token != "" && time.Until(c.expiry) > 2*time.Minute {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()
	}

	key, err := loadPrivateKey(cfg)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Add(-1 * time.Minute).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": cfg.AppID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("gitauth: sign jwt: %w", err)
	}

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/app/installations/%d/access_tokens", baseURL, cfg.InstallationID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gitauth: github app token request failed: %s", resp.Status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", fmt.Errorf("gitauth: github app token missing in response")
	}

	tokenCache.Store(cacheKey, &appTokenCache{token: body.Token, expiry: time.Now().Add(58 * time.Minute)})
	return body.Token, nil
}

func loadPrivateKey(cfg GitHubAppConfig) (*rsa.PrivateKey, error) {
	keyData := cfg.PrivateKeyPEM
	if keyData == "" && cfg.PrivateKeyPath != "" {
		data, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		keyData = string(data)
	}
	if keyData == "" {
		return nil, fmt.Errorf("gitauth: github app private key required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(keyData))
	if err != nil {
		return nil, fmt.Errorf("gitauth: parse github app private key: %w", err)
	}
	return key, nil
}
