package patching

// UnknownVersion is used when a package identifier carries no version.
const UnknownVersion = "unknown"

// Update describes one pending update reported by the package service.
type Update struct {
	PackageID string `json:"packageId" yaml:"packageId"`
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Security  bool   `json:"security" yaml:"security"`
}

// Summary counts a set of updates.
type Summary struct {
	Total    int
	Security int
}
