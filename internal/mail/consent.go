package mail

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Login runs the installed-app consent flow: start a short-lived listener on
// a loopback port, print the authorization URL, wait for Google to redirect
// back with a code, exchange it, and cache the token file. Blocks until the
// flow completes or ctx is done.
func (ts *TokenSource) Login(ctx context.Context) error {
	cs, err := loadClientSecret(ts.ClientSecretPath)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("start callback listener: %w", err)
	}
	defer ln.Close()

	state := uuid.NewString()
	redirectURI := fmt.Sprintf("http://%s/oauth/callback", ln.Addr().String())

	authURI := cs.Installed.AuthURI
	if authURI == "" {
		authURI = "https://accounts.google.com/o/oauth2/auth"
	}
	q := url.Values{
		"client_id":     {cs.Installed.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {strings.Join(Scopes, " ")},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
		"state":         {state},
	}
	fmt.Println("Open this URL in your browser to authorize Gmail access:")
	fmt.Println()
	fmt.Println(authURI + "?" + q.Encode())
	fmt.Println()

	type outcome struct {
		code string
		err  error
	}
	results := make(chan outcome, 1)

	router := chi.NewRouter()
	router.Get("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			results <- outcome{err: fmt.Errorf("oauth state mismatch")}
			return
		}
		if errMsg := query.Get("error"); errMsg != "" {
			http.Error(w, "authorization denied", http.StatusBadRequest)
			results <- outcome{err: fmt.Errorf("authorization denied: %s", errMsg)}
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			results <- outcome{err: fmt.Errorf("callback missing code")}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Authorization received. You can close this tab and return to the terminal.")
		results <- outcome{code: code}
	})

	srv := &http.Server{Handler: router}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	var res outcome
	select {
	case res = <-results:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}

	tok, err := ts.exchangeCode(ctx, cs, res.code, redirectURI)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	ts.tok = tok
	ts.mu.Unlock()
	if err := saveToken(ts.TokenPath, tok); err != nil {
		return err
	}
	fmt.Printf("Gmail credentials saved to %s\n", ts.TokenPath)
	return nil
}

func (ts *TokenSource) exchangeCode(ctx context.Context, cs *clientSecret, code, redirectURI string) (*Token, error) {
	uri := cs.Installed.TokenURI
	if uri == "" {
		uri = defaultTokenURI
	}
	form := url.Values{
		"client_id":     {cs.Installed.ClientID},
		"client_secret": {cs.Installed.ClientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}
	resp, err := ts.postForm(ctx, uri, form)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenURI:     uri,
		ClientID:     cs.Installed.ClientID,
		ClientSecret: cs.Installed.ClientSecret,
		Scopes:       Scopes,
		Expiry:       ts.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}
