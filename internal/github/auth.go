package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gogithub "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"scoutsite-backend/internal/config"
)

const (
	appJWTLifetime = 60 * time.Second
	// GitHub rejects iat values in the future; backdate to absorb clock drift.
	appJWTBackdate = 30 * time.Second
	// Refresh installation tokens this long before GitHub expires them.
	tokenEarlyExpiry = time.Minute
)

// AppAuth exchanges a GitHub App identity for installation access tokens.
type AppAuth struct {
	appID   int64
	key     *rsa.PrivateKey
	baseURL *url.URL
	timeout time.Duration
	now     func() time.Time

	mu             sync.Mutex
	installationID int64
}

// NewAppAuth validates the App credentials in cfg.
func NewAppAuth(cfg *config.Config) (*AppAuth, error) {
	if cfg.GitHubAppID <= 0 {
		return nil, fmt.Errorf("%w: GitHub App ID is missing", ErrConfig)
	}
	if cfg.GitHubPrivateKey == "" {
		return nil, fmt.Errorf("%w: GitHub App private key is missing", ErrConfig)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.GitHubPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing GitHub App private key: %v", ErrConfig, err)
	}
	baseURL, err := url.Parse(cfg.GitHubAPIURL)
	if err != nil {
		return nil, fmt.Errorf("%w: GITHUB_API_URL: %v", ErrConfig, err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AppAuth{
		appID:          cfg.GitHubAppID,
		key:            key,
		baseURL:        baseURL,
		timeout:        timeout,
		now:            time.Now,
		installationID: cfg.GitHubInstallationID,
	}, nil
}

// AppJWT signs the short-lived RS256 token that authenticates as the App itself.
func (a *AppAuth) AppJWT(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("%w: signing app jwt: %v", ErrAuth, err)
	}
	return signed, nil
}

// InstallationToken returns a fresh installation access token.
func (a *AppAuth) InstallationToken(ctx context.Context) (*oauth2.Token, error) {
	appJWT, err := a.AppJWT(a.now())
	if err != nil {
		return nil, err
	}
	client := a.appClient(appJWT)

	id, err := a.resolveInstallation(ctx, client)
	if err != nil {
		return nil, err
	}

	tok, resp, err := client.Apps.CreateInstallationToken(ctx, id, nil)
	if err != nil {
		return nil, authErr(resp, fmt.Errorf("creating installation token for %d: %w", id, err))
	}
	if tok.GetToken() == "" {
		return nil, authErr(resp, fmt.Errorf("installation %d returned an empty token", id))
	}
	return &oauth2.Token{
		AccessToken: tok.GetToken(),
		Expiry:      tok.GetExpiresAt().Time,
	}, nil
}

// TokenSource caches installation tokens until shortly before they expire.
func (a *AppAuth) TokenSource() oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, &installationTokenSource{auth: a}, tokenEarlyExpiry)
}

func (a *AppAuth) resolveInstallation(ctx context.Context, client *gogithub.Client) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installationID > 0 {
		return a.installationID, nil
	}

	installations, resp, err := client.Apps.ListInstallations(ctx, nil)
	if err != nil {
		return 0, authErr(resp, fmt.Errorf("listing app installations: %w", err))
	}
	if len(installations) == 0 {
		return 0, authErr(resp, fmt.Errorf("no installations found for app %d", a.appID))
	}
	a.installationID = installations[0].GetID()
	return a.installationID, nil
}

func (a *AppAuth) appClient(appJWT string) *gogithub.Client {
	client := gogithub.NewClient(&http.Client{Timeout: a.timeout}).WithAuthToken(appJWT)
	client.BaseURL = a.baseURL
	return client
}

func authErr(resp *gogithub.Response, err error) error {
	return &RemoteError{Step: stepAuth, Status: statusOf(resp), Err: err, kind: ErrAuth}
}

// installationTokenSource adapts AppAuth to oauth2.TokenSource, which has no context.
type installationTokenSource struct {
	auth *AppAuth
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.auth.timeout)
	defer cancel()
	return s.auth.InstallationToken(ctx)
}
