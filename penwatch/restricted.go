package penwatch

import (
	"errors"
	"net/url"
	"strings"
)

// ErrRestrictedURL is returned when asked to attach to a page the browser
// does not allow script injection on.
var ErrRestrictedURL = errors.New("penwatch: restricted page")

var restrictedPrefixes = []string{
	"chrome://",
	"edge://",
	"about:",
	"chrome-extension://",
	"devtools://",
}

// IsRestrictedURL reports whether u is a browser-internal page or the
// extension store, where penwatch never attaches.
func IsRestrictedURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	if lower == "" {
		return true
	}
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	parsed, err := url.Parse(lower)
	if err != nil {
		return false
	}
	switch parsed.Host {
	case "chrome.google.com":
		return strings.HasPrefix(parsed.Path, "/webstore")
	case "chromewebstore.google.com", "microsoftedge.microsoft.com":
		return true
	}
	return false
}
