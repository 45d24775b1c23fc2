// Package urlhash derives the deduplication key of an article from its URL.
package urlhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for URLs that cannot be normalized.
var ErrInvalidURL = errors.New("invalid article url")

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

var trackingParams = map[string]bool{
	"ref":    true,
	"source": true,
	"fbclid": true,
	"gclid":  true,
}

// Normalize returns the canonical form used for fingerprinting: lowercased,
// no fragment, no tracking parameters, remaining query sorted by key,
// default port and trailing slash removed.
func Normalize(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		host := u.Hostname()
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false

	query := u.Query()
	for key := range query {
		if strings.HasPrefix(key, "utm_") || trackingParams[key] {
			query.Del(key)
		}
	}
	// Encode sorts by key
	u.RawQuery = query.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String(), nil
}

// Fingerprint returns the hex SHA-256 of the normalized URL.
func Fingerprint(raw string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
