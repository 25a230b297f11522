package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/poapgate/poapgate/internal/model"
	"github.com/poapgate/poapgate/internal/store"
)

// Twitter OAuth 2.0 endpoints.
const (
	TwitterAuthURL    = "https://twitter.com/i/oauth2/authorize"
	TwitterTokenURL   = "https://api.twitter.com/2/oauth2/token"
	TwitterProfileURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url"

	DefaultLoginStateTTL = 10 * time.Minute

	loginStateKeyPrefix = "oauth:state:"
	maxProfileBytes     = 64 << 10
)

var (
	// ErrInvalidState is returned when a callback's state is unknown,
	// expired or already used.
	ErrInvalidState = errors.New("invalid login state")
	// ErrLoginFailed is returned when the code exchange or profile
	// lookup fails.
	ErrLoginFailed = errors.New("login failed")
)

// TwitterConfig configures Twitter login.
type TwitterConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides, for tests.
	AuthURL    string
	TokenURL   string
	ProfileURL string

	StateTTL   time.Duration
	HTTPClient *http.Client
}

// Twitter runs the OAuth 2.0 authorization code flow with PKCE. Pending
// login state lives in the store until the callback consumes it.
type Twitter struct {
	oauth      *oauth2.Config
	profileURL string
	store      store.Store
	stateTTL   time.Duration
	httpClient *http.Client
}

// NewTwitter creates a Twitter login provider.
func NewTwitter(cfg TwitterConfig, s store.Store) (*Twitter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("twitter client credentials are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("twitter redirect url is required")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = TwitterAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = TwitterTokenURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = TwitterProfileURL
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultLoginStateTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Twitter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"users.read", "tweet.read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		profileURL: cfg.ProfileURL,
		store:      s,
		stateTTL:   cfg.StateTTL,
		httpClient: cfg.HTTPClient,
	}, nil
}

// LoginURL starts a login. It returns the authorize URL to redirect to
// and the state the callback must present; callers bind the state to the
// browser so a callback cannot be replayed into another user's session.
func (t *Twitter) LoginURL(ctx context.Context) (authURL, state string, err error) {
	state, err = randomState()
	if err != nil {
		return "", "", err
	}
	verifier := oauth2.GenerateVerifier()

	if err := t.store.Set(ctx, loginStateKeyPrefix+state, []byte(verifier), t.stateTTL); err != nil {
		return "", "", fmt.Errorf("save login state: %w", err)
	}

	return t.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), state, nil
}

// StateTTL is how long a started login stays valid.
func (t *Twitter) StateTTL() time.Duration {
	return t.stateTTL
}

// Complete finishes a login from the callback's state and code.
func (t *Twitter) Complete(ctx context.Context, state, code string) (*model.Identity, error) {
	if state == "" || code == "" {
		return nil, ErrInvalidState
	}

	verifier, err := t.store.GetDel(ctx, loginStateKeyPrefix+state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("load login state: %w", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.httpClient)
	tok, err := t.oauth.Exchange(ctx, code, oauth2.VerifierOption(string(verifier)))
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %w", ErrLoginFailed, err)
	}

	id, err := t.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	return id, nil
}

type twitterProfile struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

func (t *Twitter) fetchProfile(ctx context.Context, accessToken string) (*model.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.profileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch profile: status %d", resp.StatusCode)
	}

	var profile twitterProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if profile.Data.ID == "" {
		return nil, fmt.Errorf("profile has no id")
	}

	return &model.Identity{
		UserID:   profile.Data.ID,
		Name:     profile.Data.Name,
		Username: profile.Data.Username,
		ImageURL: profile.Data.ProfileImageURL,
	}, nil
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
