// Package geo resolves a client IP to a coarse location for device sessions.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const Unknown = "Unknown"

// Location is the geodata stored with a login history entry.
type Location struct {
	Country   string
	State     string
	City      string
	LocalTime string
	Language  string
}

// UnknownLocation is returned whenever a lookup is skipped or fails.
func UnknownLocation(now time.Time) Location {
	return Location{
		Country:   Unknown,
		State:     Unknown,
		City:      Unknown,
		LocalTime: now.UTC().Format(time.RFC3339),
		Language:  "en",
	}
}

// Locator resolves an IP address. Implementations never fail; they fall back
// to UnknownLocation.
type Locator interface {
	Locate(ctx context.Context, ip string) Location
}

// HTTPLocator queries an ipapi.co compatible JSON endpoint. The URL template
// must contain one %s for the IP, e.g. "https://ipapi.co/%s/json/".
type HTTPLocator struct {
	client      *http.Client
	urlTemplate string
	logger      *slog.Logger
	now         func() time.Time
}

func NewHTTPLocator(urlTemplate string, timeout time.Duration, logger *slog.Logger) *HTTPLocator {
	return &HTTPLocator{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		urlTemplate: urlTemplate,
		logger:      logger,
		now:         time.Now,
	}
}

// NewHTTPLocatorWithClient allows a custom transport, e.g. in tests.
func NewHTTPLocatorWithClient(client *http.Client, urlTemplate string, logger *slog.Logger) *HTTPLocator {
	return &HTTPLocator{client: client, urlTemplate: urlTemplate, logger: logger, now: time.Now}
}

type ipapiResponse struct {
	CountryName string `json:"country_name"`
	CountryCode string `json:"country_code"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Timezone    string `json:"timezone"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

func (l *HTTPLocator) Locate(ctx context.Context, ip string) Location {
	now := l.now()
	if isPrivate(ip) {
		return UnknownLocation(now)
	}

	loc, err := l.lookup(ctx, ip, now)
	if err != nil {
		l.logger.Warn("geo lookup failed", slog.String("error", err.Error()))
		return UnknownLocation(now)
	}
	return loc
}

func (l *HTTPLocator) lookup(ctx context.Context, ip string, now time.Time) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(l.urlTemplate, ip), nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Error {
		return Location{}, fmt.Errorf("lookup rejected: %s", body.Reason)
	}

	loc := UnknownLocation(now)
	if body.CountryName != "" {
		loc.Country = body.CountryName
	}
	if body.Region != "" {
		loc.State = body.Region
	}
	if body.City != "" {
		loc.City = body.City
	}
	if body.CountryCode != "" {
		loc.Language = strings.ToLower(body.CountryCode)
	}
	if tz, err := time.LoadLocation(body.Timezone); err == nil && body.Timezone != "" {
		loc.LocalTime = now.In(tz).Format(time.RFC3339)
	}
	return loc, nil
}

// StaticLocator always answers UnknownLocation. It is used when no lookup
// service is configured.
type StaticLocator struct{}

func (StaticLocator) Locate(ctx context.Context, ip string) Location {
	return UnknownLocation(time.Now())
}

func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast()
}
