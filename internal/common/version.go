package common

// Version information, overridable at build time via
// -ldflags "-X github.com/ternarybob/graben/internal/common.version=..."
var (
	version = "0.3.0"
	build   = "dev"
)

// GetVersion returns the application version string
func GetVersion() string {
	return version
}

// GetBuild returns the build identifier
func GetBuild() string {
	return build
}
