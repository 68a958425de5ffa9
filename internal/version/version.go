// Package version reports the bot build version.
package version

// Version is set at build time via
// -ldflags "-X github.com/arriba-labs/battlebot/internal/version.Version=...".
var Version = "dev"

// Get returns the current version string
func Get() string {
	return Version
}

// UserAgent is sent with outbound API requests.
func UserAgent() string {
	return "battlebot/" + Version
}
