package login

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateCookieName   = "state"
	defaultGithubAPI  = "https://api.github.com"
	methodGithub      = "github"
	githubErrorTarget = "/login?error=github"
)

// Github signs organizers in through GitHub OAuth. Only the resulting email
// matters; the access gate decides whether it may see the dashboard.
type Github struct {
	config   *oauth2.Config
	sessions *Sessions
	apiURL   string
	redirect string

	httpClient *http.Client // base client for token exchange and API calls
}

// NewGithub creates the GitHub sign-in flow. After a successful callback the
// browser is sent to redirect.
func NewGithub(clientID, clientSecret, callbackURL, redirect string, sessions *Sessions) (*Github, error) {
	if clientID == "" || clientSecret == "" || callbackURL == "" {
		return nil, fmt.Errorf("client ID, client secret, and callback URL are required")
	}

	if sessions == nil {
		return nil, fmt.Errorf("sessions are required")
	}

	return &Github{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
		sessions: sessions,
		apiURL:   defaultGithubAPI,
		redirect: redirect,
	}, nil
}

// WithEndpoints points the flow at other OAuth and API servers.
func (g *Github) WithEndpoints(endpoint oauth2.Endpoint, apiURL string) *Github {
	g.config.Endpoint = endpoint
	g.apiURL = apiURL
	return g
}

// WithHTTPClient sets the client used to reach GitHub. The OAuth transport
// wraps it, so a caching transport sees the authorized requests.
func (g *Github) WithHTTPClient(client *http.Client) *Github {
	g.httpClient = client
	return g
}

func (g *Github) withClient(ctx context.Context) context.Context {
	if g.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

func (g *Github) saveState(w http.ResponseWriter) string {
	// generate random state
	state := rand.Text()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.sessions.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes - enough time for OAuth flow
	})

	return state
}

func (g *Github) LoginHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("Initiating GitHub OAuth flow")

	state := g.saveState(w)

	http.Redirect(w, r, g.config.AuthCodeURL(state), http.StatusFound)
}

func (g *Github) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("OAuth callback received")

	state := r.FormValue("state")
	code := r.FormValue("code")

	if state == "" || code == "" {
		log.Warn().Msg("OAuth callback missing state or code")
		http.Redirect(w, r, githubErrorTarget, http.StatusFound)
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		log.Warn().Err(err).Msg("OAuth callback missing state cookie")
		http.Redirect(w, r, githubErrorTarget, http.StatusFound)
		return
	}

	if state != cookie.Value {
		log.Warn().Msg("OAuth callback state mismatch")
		http.Redirect(w, r, githubErrorTarget, http.StatusFound)
		return
	}

	// Clear the state cookie after validation
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.sessions.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	token, err := g.config.Exchange(g.withClient(r.Context()), code)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to exchange OAuth code for token")
		http.Redirect(w, r, githubErrorTarget, http.StatusFound)
		return
	}

	userInfo, err := g.getUserInfo(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch user info from GitHub")
		http.Redirect(w, r, githubErrorTarget, http.StatusFound)
		return
	}

	if userInfo.Email == "" {
		log.Warn().Msg("GitHub user info missing email address")
		http.Redirect(w, r, githubErrorTarget, http.StatusFound)
		return
	}

	if _, err := g.sessions.Establish(r.Context(), w, userInfo.Email, userInfo.Name, methodGithub); err != nil {
		log.Error().Err(err).Str("user", userInfo.Email).Msg("Failed to establish session")
		http.Redirect(w, r, "/login?error=session", http.StatusFound)
		return
	}

	log.Info().Str("user", userInfo.Email).Msg("User authenticated successfully")

	http.Redirect(w, r, g.redirect, http.StatusFound)
}

func (g *Github) getUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	// Add timeout to prevent hanging on slow GitHub API
	ctx, cancel := context.WithTimeout(g.withClient(ctx), 10*time.Second)
	defer cancel()

	client := g.config.Client(ctx, token)
	resp, err := client.Get(g.apiURL + "/user")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d", resp.StatusCode)
	}

	var userInfo UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	// If email is not available from /user endpoint, fetch from /user/emails
	if userInfo.Email == "" {
		emails, err := g.getUserEmails(ctx, token)
		if err != nil {
			return nil, err
		}
		for _, email := range emails {
			if email.Primary && email.Verified {
				userInfo.Email = email.Email
				break
			}
		}
	}

	return &userInfo, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *Github) getUserEmails(ctx context.Context, token *oauth2.Token) ([]githubEmail, error) {
	client := g.config.Client(ctx, token)
	resp, err := client.Get(g.apiURL + "/user/emails")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d for emails endpoint", resp.StatusCode)
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("failed to decode user emails: %w", err)
	}

	return emails, nil
}

type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
