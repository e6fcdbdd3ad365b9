package verification

import (
	"strings"

	"github.com/mssola/useragent"
)

// ClientDescriptor reduces a User-Agent header to a coarse "browser on
// platform" label for audit records.
func ClientDescriptor(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "unknown client"
	}
	ua := useragent.New(userAgent)
	name, _ := ua.Browser()
	if ua.Bot() {
		return "bot " + name
	}
	platform := ua.OS()
	if ua.Mobile() || platform == "" {
		platform = ua.Platform()
	}
	if name == "" {
		name = "unknown browser"
	}
	if platform == "" {
		platform = "unknown platform"
	}
	return name + " on " + platform
}
