package logger

import (
	"log/slog"
	"strings"
)

// MaskSensitive keeps the first and last two characters of values longer than
// five characters, e.g. "jo****om". Shorter values are returned unchanged.
func MaskSensitive(value string) string {
	if len(value) <= 5 {
		return value
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// keep the TLD
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// EmailAttr and IPAttr are the slog attributes used wherever an address
// reaches the logs.
func EmailAttr(email string) slog.Attr {
	return slog.String("email", SanitizedEmail(email))
}

func IPAttr(ip string) slog.Attr {
	return slog.String("ip", MaskSensitive(ip))
}

// SanitizeQueryString reports whether a query string carries a sensitive
// parameter and must be redacted as a whole.
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password", "token", "secret", "api_key", "apikey", "email", "auth", "csrf", "code",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
