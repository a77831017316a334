package auth

import (
	"net/http"
	"strings"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	bearerPrefix = "bearer "
)

// Extractor pulls a candidate access token out of a request. An empty
// result means "not present here".
type Extractor interface {
	Extract(r *http.Request) string
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(r *http.Request) string

func (f ExtractorFunc) Extract(r *http.Request) string { return f(r) }

// CookieExtractor reads the named cookie.
type CookieExtractor string

func (c CookieExtractor) Extract(r *http.Request) string {
	cookie, err := r.Cookie(string(c))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// BearerExtractor reads "Authorization: Bearer <token>".
type BearerExtractor struct{}

func (BearerExtractor) Extract(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// RawHeaderExtractor accepts an Authorization header carrying the bare token.
type RawHeaderExtractor struct{}

func (RawHeaderExtractor) Extract(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	if len(header) >= len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return header
}

// DefaultExtractors is the lookup order used by the session middleware:
// cookie first, then a Bearer header, then a raw header value.
func DefaultExtractors() []Extractor {
	return []Extractor{
		CookieExtractor(AccessTokenCookie),
		BearerExtractor{},
		RawHeaderExtractor{},
	}
}

// ExtractToken returns the first non-empty token produced by extractors.
func ExtractToken(r *http.Request, extractors []Extractor) string {
	for _, e := range extractors {
		if token := e.Extract(r); token != "" {
			return token
		}
	}
	return ""
}
