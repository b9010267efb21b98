package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// ItemID derives a stable id from the canonical media URL so the same
// media reached through different providers collapses to one id.
func ItemID(mediaURL string) (string, error) {
	canonical, err := CanonicalURL(mediaURL)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:12]), nil
}

// CanonicalURL drops query, fragment, userinfo, default ports and
// trailing slashes, and lowercases scheme and host.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url '%s' has no host", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" {
		scheme = "https"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}
	path := strings.TrimRight(u.EscapedPath(), "/")

	return scheme + "://" + host + path, nil
}
