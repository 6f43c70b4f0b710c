package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

const unknown = "Unknown"

// DeviceInfo is what the User-Agent says about the requesting device.
type DeviceInfo struct {
	DeviceType    string
	OS            string
	OSVersion     string
	Client        string
	ClientVersion string
}

// ParseDevice extracts device type, OS and client from a User-Agent string.
// Missing parts are reported as "Unknown".
func ParseDevice(userAgent string) DeviceInfo {
	info := DeviceInfo{
		DeviceType:    unknown,
		OS:            unknown,
		OSVersion:     unknown,
		Client:        unknown,
		ClientVersion: unknown,
	}
	if strings.TrimSpace(userAgent) == "" {
		return info
	}

	ua := useragent.New(userAgent)

	switch {
	case ua.Bot():
		info.DeviceType = "bot"
	case strings.Contains(userAgent, "iPad") || strings.Contains(userAgent, "Tablet"):
		info.DeviceType = "tablet"
	case ua.Mobile():
		info.DeviceType = "smartphone"
	case ua.OS() != "":
		info.DeviceType = "desktop"
	}

	if os := ua.OSInfo(); os.Name != "" {
		info.OS = os.Name
		if os.Version != "" {
			info.OSVersion = os.Version
		}
	}

	if name, version := ua.Browser(); name != "" {
		info.Client = name
		if version != "" {
			info.ClientVersion = version
		}
	}

	return info
}

// DeviceKey is the stable fingerprint of a device:
// hex(sha256(deviceType + os + client + ip)).
func DeviceKey(info DeviceInfo, ip string) string {
	sum := sha256.Sum256([]byte(info.DeviceType + info.OS + info.Client + ip))
	return hex.EncodeToString(sum[:])
}

// DeviceSignature groups sessions for the active devices view.
func DeviceSignature(info DeviceInfo, ip string) string {
	return info.DeviceType + "-" + info.OS + "-" + ip
}
