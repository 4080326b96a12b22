package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const tokenRenewalMargin = 60 * time.Second

type PasswordAuthOptions struct {
	APIKey          string
	Email           string
	Password        string
	SignInEndpoint  string
	RefreshEndpoint string
	HTTPClient      *http.Client
}

// PasswordAuth signs in with email/password and keeps the short-lived id
// token fresh via the refresh endpoint, renewing a minute before expiry.
type PasswordAuth struct {
	apiKey          string
	email           string
	password        string
	signInEndpoint  string
	refreshEndpoint string
	httpClient      *http.Client
	now             func() time.Time

	mu           sync.Mutex
	idToken      string
	refreshToken string
	expiry       time.Time
}

func NewPasswordAuth(opts PasswordAuthOptions) (*PasswordAuth, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("auth api key is required")
	}
	if strings.TrimSpace(opts.Email) == "" || opts.Password == "" {
		return nil, fmt.Errorf("auth email and password are required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	signIn := strings.TrimSpace(opts.SignInEndpoint)
	if signIn == "" {
		signIn = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"
	}
	refresh := strings.TrimSpace(opts.RefreshEndpoint)
	if refresh == "" {
		refresh = "https://securetoken.googleapis.com/v1/token"
	}
	return &PasswordAuth{
		apiKey:          strings.TrimSpace(opts.APIKey),
		email:           strings.TrimSpace(opts.Email),
		password:        opts.Password,
		signInEndpoint:  signIn,
		refreshEndpoint: refresh,
		httpClient:      httpClient,
		now:             time.Now,
	}, nil
}

// Token implements TokenProvider.
func (a *PasswordAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.idToken != "" && a.now().Before(a.expiry.Add(-tokenRenewalMargin)) {
		return a.idToken, nil
	}
	if a.refreshToken != "" {
		if err := a.refreshLocked(ctx); err == nil {
			return a.idToken, nil
		}
		// Refresh failures fall back to a fresh sign-in.
	}
	if err := a.signInLocked(ctx); err != nil {
		return "", err
	}
	return a.idToken, nil
}

func (a *PasswordAuth) signInLocked(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"email":             a.email,
		"password":          a.password,
		"returnSecureToken": true,
	})
	if err != nil {
		return err
	}
	endpoint := a.signInEndpoint + "?key=" + url.QueryEscape(a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "sign-in failed"}
	}
	var parsed struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return err
	}
	if parsed.IDToken == "" {
		return fmt.Errorf("sign-in response missing id token")
	}
	a.idToken = parsed.IDToken
	a.refreshToken = parsed.RefreshToken
	a.expiry = a.now().Add(parseExpiresIn(parsed.ExpiresIn))
	return nil
}

func (a *PasswordAuth) refreshLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.refreshToken)
	endpoint := a.refreshEndpoint + "?key=" + url.QueryEscape(a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "token refresh failed"}
	}
	var parsed struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return err
	}
	if parsed.IDToken == "" {
		return fmt.Errorf("refresh response missing id token")
	}
	a.idToken = parsed.IDToken
	if parsed.RefreshToken != "" {
		a.refreshToken = parsed.RefreshToken
	}
	a.expiry = a.now().Add(parseExpiresIn(parsed.ExpiresIn))
	return nil
}

func parseExpiresIn(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}
