package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/poapgate/poapgate/internal/model"
)

const (
	// SessionCookieName is the cookie holding the signed session token.
	SessionCookieName = "poap_session"

	// LoginStateCookieName binds a started login to the browser that began it.
	LoginStateCookieName = "poap_login_state"

	// MinSessionSecretLen is the shortest accepted HMAC key.
	MinSessionSecretLen = 32

	sessionIssuer = "poapgate"
)

// ErrInvalidSession is returned for missing, malformed, forged or expired
// session tokens.
var ErrInvalidSession = errors.New("invalid session")

type sessionClaims struct {
	jwt.RegisteredClaims
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Image    string `json:"image,omitempty"`
}

// SessionManager issues and verifies HS256 session cookies.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionManager creates a SessionManager. secure marks cookies
// Secure and should be set when served over HTTPS.
func NewSessionManager(secret []byte, ttl time.Duration, secure bool) (*SessionManager, error) {
	if len(secret) < MinSessionSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSessionSecretLen)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &SessionManager{
		secret: secret,
		ttl:    ttl,
		secure: secure,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// Issue signs a session token for id.
func (m *SessionManager) Issue(id *model.Identity) (string, time.Time, error) {
	if id == nil || id.UserID == "" {
		return "", time.Time{}, fmt.Errorf("identity has no user id")
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:     id.Name,
		Username: id.Username,
		Image:    id.ImageURL,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies token and returns the identity it carries.
func (m *SessionManager) Parse(token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidSession
	}

	return &model.Identity{
		UserID:   claims.Subject,
		Name:     claims.Name,
		Username: claims.Username,
		ImageURL: claims.Image,
	}, nil
}

// FromRequest returns the identity in the request's session cookie.
func (m *SessionManager) FromRequest(r *http.Request) (*model.Identity, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, ErrInvalidSession
	}
	return m.Parse(cookie.Value)
}

// SetCookie writes a session cookie for id.
func (m *SessionManager) SetCookie(w http.ResponseWriter, id *model.Identity) error {
	token, expiresAt, err := m.Issue(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the session cookie.
func (m *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetLoginStateCookie remembers state for the callback of a login the
// browser is about to start.
func (m *SessionManager) SetLoginStateCookie(w http.ResponseWriter, state string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     LoginStateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// LoginStateMatches reports whether the request's login state cookie
// holds state.
func (m *SessionManager) LoginStateMatches(r *http.Request, state string) bool {
	cookie, err := r.Cookie(LoginStateCookieName)
	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}

// ClearLoginStateCookie expires the login state cookie.
func (m *SessionManager) ClearLoginStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     LoginStateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
