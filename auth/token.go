package auth

import "regexp"

// The token field appears in the wild in several attribute encodings
// depending on the server build: double-quoted, single-quoted, and with the
// value attribute emitted before the name attribute. The first matching
// pattern wins.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)name="__RequestVerificationToken"[^>]*value="([^"]*)"`),
	regexp.MustCompile(`(?i)name='__RequestVerificationToken'[^>]*value='([^']*)'`),
	regexp.MustCompile(`(?i)value="([^"]*)"[^>]*name="__RequestVerificationToken"`),
}

// ExtractToken scans login-page markup for the single-use anti-forgery
// token. It returns the token value and whether one was found.
func ExtractToken(html string) (string, bool) {
	for _, p := range tokenPatterns {
		if m := p.FindStringSubmatch(html); m != nil && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}
