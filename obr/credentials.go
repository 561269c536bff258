package obr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNoCredential is returned when no username/password pair is configured.
// The declarer treats it as "stay pending": no network call is attempted.
var ErrNoCredential = errors.New("obr: no credential configured")

// TokenProvider yields a bearer token for declaration calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken satisfies TokenProvider with a fixed value. Tests use it.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// envTokenProvider logs into the EBMS API with OBR_USERNAME / OBR_PASSWORD
// and caches the token until close to its expiry window.
type envTokenProvider struct {
	baseURL string
	http    *http.Client

	mu       sync.Mutex
	token    string
	fetched  time.Time
	lifetime time.Duration
}

// NewEnvTokenProvider reads credentials from the environment at call time,
// so a credential added after boot is picked up without a restart.
func NewEnvTokenProvider() TokenProvider {
	return &envTokenProvider{
		baseURL:  resolveBaseURL(),
		http:     &http.Client{Timeout: requestTimeout},
		lifetime: 45 * time.Minute,
	}
}

func (p *envTokenProvider) Token(ctx context.Context) (string, error) {
	username := strings.TrimSpace(os.Getenv("OBR_USERNAME"))
	password := os.Getenv("OBR_PASSWORD")
	if username == "" || password == "" {
		return "", ErrNoCredential
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Since(p.fetched) < p.lifetime {
		return p.token, nil
	}

	token, err := p.login(ctx, username, password)
	if err != nil {
		return "", err
	}
	p.token = token
	p.fetched = time.Now()
	return token, nil
}

type loginResult struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Token   string `json:"token"`
	Result  struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	} `json:"result"`
}

func (p *envTokenProvider) login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("obr: login failed with status %d", resp.StatusCode)
	}

	var result loginResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("obr: login response decode: %w", err)
	}
	token := result.Result.Token
	if token == "" {
		token = result.Result.AccessToken
	}
	if token == "" {
		token = result.Token
	}
	if token == "" {
		return "", fmt.Errorf("obr: login response carried no token: %s", result.Msg)
	}
	return token, nil
}
