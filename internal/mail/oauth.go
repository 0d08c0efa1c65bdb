package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes requested from Gmail: send the summaries, read the replies, mark
// them read. Nothing broader.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
}

const defaultTokenURI = "https://oauth2.googleapis.com/token"

// Token mirrors the cached token file layout so existing token files keep
// working.
type Token struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

type clientSecret struct {
	Installed struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		AuthURI      string   `json:"auth_uri"`
		TokenURI     string   `json:"token_uri"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
}

type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// TokenSource hands out valid access tokens. It prefers a service-account
// key when one is present (delegated domain setups), otherwise it uses the
// cached installed-app token, refreshing it when expired.
type TokenSource struct {
	TokenPath          string
	ClientSecretPath   string
	ServiceAccountPath string
	// Subject is the mailbox a service account acts as.
	Subject    string
	HTTPClient *http.Client
	Now        func() time.Time

	mu  sync.Mutex
	tok *Token
}

func NewTokenSource(secretsDir, subject string) *TokenSource {
	return &TokenSource{
		TokenPath:          filepath.Join(secretsDir, "gmail-token.json"),
		ClientSecretPath:   filepath.Join(secretsDir, "gmail-client-secret.json"),
		ServiceAccountPath: filepath.Join(secretsDir, "gmail-service-account.json"),
		Subject:            subject,
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
	}
}

func (ts *TokenSource) now() time.Time {
	if ts.Now != nil {
		return ts.Now()
	}
	return time.Now()
}

// AccessToken returns a token valid for at least another minute.
func (ts *TokenSource) AccessToken(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.tok != nil && ts.tok.AccessToken != "" && ts.now().Add(time.Minute).Before(ts.tok.Expiry) {
		return ts.tok.AccessToken, nil
	}

	if ts.ServiceAccountPath != "" {
		if _, err := os.Stat(ts.ServiceAccountPath); err == nil {
			tok, err := ts.serviceAccountToken(ctx)
			if err != nil {
				return "", err
			}
			ts.tok = tok
			return tok.AccessToken, nil
		}
	}

	if ts.tok == nil {
		tok, err := loadToken(ts.TokenPath)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("gmail token %s not found; run wjs auth login", ts.TokenPath)
			}
			return "", err
		}
		ts.tok = tok
	}
	if ts.tok.AccessToken != "" && ts.now().Add(time.Minute).Before(ts.tok.Expiry) {
		return ts.tok.AccessToken, nil
	}
	if ts.tok.RefreshToken == "" {
		return "", fmt.Errorf("gmail token expired and has no refresh token; run wjs auth login")
	}
	if err := ts.refresh(ctx); err != nil {
		return "", err
	}
	return ts.tok.AccessToken, nil
}

func (ts *TokenSource) refresh(ctx context.Context) error {
	form := url.Values{
		"client_id":     {ts.tok.ClientID},
		"client_secret": {ts.tok.ClientSecret},
		"refresh_token": {ts.tok.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	uri := ts.tok.TokenURI
	if uri == "" {
		uri = defaultTokenURI
	}
	resp, err := ts.postForm(ctx, uri, form)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	ts.tok.AccessToken = resp.AccessToken
	ts.tok.Expiry = ts.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.RefreshToken != "" {
		ts.tok.RefreshToken = resp.RefreshToken
	}
	return saveToken(ts.TokenPath, ts.tok)
}

// serviceAccountToken trades an RS256-signed assertion for an access token
// via the JWT-bearer grant. Nothing is cached on disk; the token lives only
// for this process.
func (ts *TokenSource) serviceAccountToken(ctx context.Context) (*Token, error) {
	data, err := os.ReadFile(ts.ServiceAccountPath)
	if err != nil {
		return nil, err
	}
	var sa serviceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("parse service account file: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	uri := sa.TokenURI
	if uri == "" {
		uri = defaultTokenURI
	}

	now := ts.now()
	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": strings.Join(Scopes, " "),
		"aud":   uri,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	if ts.Subject != "" {
		claims["sub"] = ts.Subject
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	resp, err := ts.postForm(ctx, uri, form)
	if err != nil {
		return nil, fmt.Errorf("jwt-bearer grant: %w", err)
	}
	return &Token{
		AccessToken: resp.AccessToken,
		TokenURI:    uri,
		Scopes:      Scopes,
		Expiry:      now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// TokenStatus describes the credential files on disk.
type TokenStatus struct {
	TokenPath          string   `json:"token_path"`
	ClientSecretPath   string   `json:"client_secret_path"`
	ServiceAccountPath string   `json:"service_account_path"`
	HasToken           bool     `json:"has_token"`
	HasClientSecret    bool     `json:"has_client_secret"`
	HasServiceAccount  bool     `json:"has_service_account"`
	Expiry             string   `json:"expiry,omitempty"`
	Scopes             []string `json:"scopes,omitempty"`
}

// Status inspects the credential files without touching the network.
func (ts *TokenSource) Status() TokenStatus {
	st := TokenStatus{
		TokenPath:          ts.TokenPath,
		ClientSecretPath:   ts.ClientSecretPath,
		ServiceAccountPath: ts.ServiceAccountPath,
	}
	if _, err := os.Stat(ts.ClientSecretPath); err == nil {
		st.HasClientSecret = true
	}
	if _, err := os.Stat(ts.ServiceAccountPath); err == nil {
		st.HasServiceAccount = true
	}
	if tok, err := loadToken(ts.TokenPath); err == nil {
		st.HasToken = true
		st.Scopes = tok.Scopes
		if !tok.Expiry.IsZero() {
			st.Expiry = tok.Expiry.UTC().Format(time.RFC3339)
		}
	}
	return st
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (ts *TokenSource) postForm(ctx context.Context, uri string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := ts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint (status %d): %s", resp.StatusCode, string(body))
	}
	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}
	return &out, nil
}

func loadClientSecret(path string) (*clientSecret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("gmail client secret %s not found; download it from Google Cloud Console", path)
		}
		return nil, err
	}
	var cs clientSecret
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	if cs.Installed.ClientID == "" {
		return nil, fmt.Errorf("client secret %s has no installed-app section", path)
	}
	return &cs, nil
}

func loadToken(path string) (*Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tok, nil
}

func saveToken(path string, tok *Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
