package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
)

// CSRFGenerator mints ledger tokens. A token is the hex HMAC-SHA256 of the
// user id, 32 random bytes and the issue time, keyed with the access secret.
type CSRFGenerator struct {
	secret []byte
	ttl    time.Duration
}

func NewCSRFGenerator(secret string, ttl time.Duration) *CSRFGenerator {
	if ttl <= 0 || ttl > models.MaxCSRFTokenTTL {
		ttl = models.MaxCSRFTokenTTL
	}
	return &CSRFGenerator{secret: []byte(secret), ttl: ttl}
}

func (g *CSRFGenerator) TTL() time.Duration {
	return g.ttl
}

// Generate returns a fresh, unused ledger entry for userID.
func (g *CSRFGenerator) Generate(userID string, now time.Time) (*models.CSRFToken, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("failed to generate csrf entropy: %w", err)
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(userID))
	mac.Write([]byte(hex.EncodeToString(random)))
	mac.Write([]byte(strconv.FormatInt(now.UnixMilli(), 10)))

	return &models.CSRFToken{
		Token:     hex.EncodeToString(mac.Sum(nil)),
		UserID:    userID,
		ExpiresAt: now.Add(g.ttl),
		UsedIPs:   []string{},
		CreatedAt: now,
	}, nil
}
