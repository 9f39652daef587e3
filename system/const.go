package system

var (
	// Version is the current version of the mod management engine. This value
	// is replaced at build time using ldflags.
	Version = "develop"
)
