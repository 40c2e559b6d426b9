// Package middleware provides HTTP middleware functions.
package middleware

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

// YouTube hosts accepted in video and playlist URLs.
var allowedDomains = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// Submission validation errors
var (
	ErrInvalidCommand   = errors.New("invalid command selected")
	ErrHandleRequired   = errors.New("a channel handle is required for channel/shorts modes")
	ErrInvalidHandle    = errors.New("invalid channel handle")
	ErrVideoIDsRequired = errors.New("provide at least one video ID or URL")
	ErrPlaylistRequired = errors.New("a playlist ID or URL is required")
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDomainNotAllowed = errors.New("domain not in allowlist")
	ErrUserInfoPresent  = errors.New("URLs with user credentials are not allowed")
)

var handlePattern = regexp.MustCompile(`^@?[\p{L}\p{N}._·-]{1,100}$`)

// ValidateSubmission checks a job submission and returns its config.
func ValidateSubmission(s domain.JobSubmission) (domain.JobConfig, error) {
	cfg := s.Config()

	switch cfg.Command {
	case domain.CommandChannel, domain.CommandShorts:
		if cfg.Handle == "" {
			return cfg, ErrHandleRequired
		}
		if !handlePattern.MatchString(cfg.Handle) {
			return cfg, ErrInvalidHandle
		}
	case domain.CommandVideo:
		if len(cfg.VideoIDs) == 0 {
			return cfg, ErrVideoIDsRequired
		}
		for _, raw := range cfg.VideoIDs {
			if looksLikeURL(raw) {
				if err := ValidateURL(raw); err != nil {
					return cfg, err
				}
			}
		}
	case domain.CommandPlaylist:
		target := cfg.Handle
		if target == "" && len(cfg.VideoIDs) > 0 {
			target = cfg.VideoIDs[0]
		}
		if target == "" {
			return cfg, ErrPlaylistRequired
		}
		if looksLikeURL(target) {
			if err := ValidateURL(target); err != nil {
				return cfg, err
			}
		}
	default:
		return cfg, ErrInvalidCommand
	}
	return cfg, nil
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.Contains(s, "youtu")
}

// ValidateURL validates a URL against security rules.
// It checks for:
// - Valid URL format
// - HTTP(S) scheme
// - YouTube hosts only
// - No userinfo (user:pass@host)
func ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return ErrInvalidURL
	}

	if parsedURL.User != nil {
		return ErrUserInfoPresent
	}

	host := strings.ToLower(parsedURL.Hostname())
	if host == "" {
		return ErrInvalidURL
	}

	if !isDomainAllowed(host) {
		return ErrDomainNotAllowed
	}

	return nil
}

// isDomainAllowed checks if a domain is in the allowlist.
// It also handles subdomains by checking parent domains.
func isDomainAllowed(host string) bool {
	if allowedDomains[host] {
		return true
	}

	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		parentDomain := parts[len(parts)-2] + "." + parts[len(parts)-1]
		if allowedDomains[parentDomain] {
			return true
		}
	}

	return false
}
