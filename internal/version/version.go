// Package version holds build metadata, set with -ldflags -X at link time.
package version

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata as "dev (unknown, built unknown)".
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
