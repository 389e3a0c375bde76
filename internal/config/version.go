package config

// Version is the optimizer release version
const Version = "0.3.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}
