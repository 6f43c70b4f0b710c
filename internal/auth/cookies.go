package auth

import (
	"net/http"
	"time"
)

const (
	CookieAccessToken    = "accessToken"
	CookieRefreshToken   = "refreshToken"
	CookieDeviceKey      = "deviceKey"
	CookieSessionVersion = "sessionVersion"
	CookieCSRFToken      = "csrfToken"

	HeaderCSRFToken = "X-CSRF-Token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool
	SameSite http.SameSite
}

// NewCookieConfig returns Secure, SameSite=Strict cookies in production and
// Lax cookies elsewhere.
func NewCookieConfig(domain string, production bool) CookieConfig {
	if production {
		return CookieConfig{Domain: domain, Secure: true, SameSite: http.SameSiteStrictMode}
	}
	return CookieConfig{Domain: domain, Secure: false, SameSite: http.SameSiteLaxMode}
}

func (c CookieConfig) set(w http.ResponseWriter, name, value string, maxAge time.Duration, httpOnly bool) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(maxAge.Seconds()),
		Expires:  time.Now().Add(maxAge),
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
	http.SetCookie(w, cookie)
}

func (c CookieConfig) clear(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		Expires:  time.Unix(0, 0),
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// SetCSRFCookie writes the readable CSRF cookie; the client echoes it in the
// X-CSRF-Token header.
func (c CookieConfig) SetCSRFCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	c.set(w, CookieCSRFToken, token, maxAge, false)
}

// ClearSessionCookies expires every session cookie.
func (c CookieConfig) ClearSessionCookies(w http.ResponseWriter) {
	c.clear(w, CookieAccessToken, true)
	c.clear(w, CookieRefreshToken, true)
	c.clear(w, CookieDeviceKey, true)
	c.clear(w, CookieSessionVersion, true)
	c.clear(w, CookieCSRFToken, false)
}

// cookieValue returns the named cookie's value or "".
func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
