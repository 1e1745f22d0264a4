package patching

import (
	"strings"

	"github.com/liberodark/check-updates/internal/packagekit"
)

const (
	packageIDSeparator = ";"
	securityMarker     = "CVE-"
)

// ParsePackageID splits a PackageKit identifier ("name;version;arch;data")
// into an Update. ok is false when the identifier has no name.
func ParsePackageID(packageID string, security bool) (Update, bool) {
	parts := strings.Split(packageID, packageIDSeparator)
	name := parts[0]
	if name == "" {
		return Update{}, false
	}

	version := UnknownVersion
	if len(parts) > 1 && parts[1] != "" {
		version = parts[1]
	}

	return Update{
		PackageID: packageID,
		Name:      name,
		Version:   version,
		Security:  security,
	}, true
}

// IsSecurity reports whether an update detail is associated with a security
// advisory.
func IsSecurity(d packagekit.UpdateDetail) bool {
	return len(d.CVEURLs) > 0 ||
		strings.Contains(d.UpdateText, securityMarker) ||
		strings.Contains(d.Changelog, securityMarker)
}

// Classify maps each detailed package identifier to its security flag. A
// package reported more than once is security-relevant if any report is.
func Classify(details []packagekit.UpdateDetail) map[string]bool {
	classes := make(map[string]bool, len(details))
	for _, d := range details {
		classes[d.PackageID] = classes[d.PackageID] || IsSecurity(d)
	}
	return classes
}

// Aggregate builds one Update per enumerated identifier, in enumeration
// order. Identifiers without a detail entry are not security updates;
// identifiers that cannot be parsed are skipped.
func Aggregate(packageIDs []string, classes map[string]bool) []Update {
	updates := make([]Update, 0, len(packageIDs))
	for _, id := range packageIDs {
		u, ok := ParsePackageID(id, classes[id])
		if !ok {
			log.Warn("skipping malformed package identifier", "packageId", id)
			continue
		}
		updates = append(updates, u)
	}
	return updates
}

// Summarize counts total and security updates.
func Summarize(updates []Update) Summary {
	s := Summary{Total: len(updates)}
	for _, u := range updates {
		if u.Security {
			s.Security++
		}
	}
	return s
}

// Select returns the updates to apply: every update when all is set,
// otherwise only security updates.
func Select(updates []Update, all bool) []Update {
	if all {
		return updates
	}
	selected := make([]Update, 0, len(updates))
	for _, u := range updates {
		if u.Security {
			selected = append(selected, u)
		}
	}
	return selected
}

// PackageIDs returns the identifiers of updates.
func PackageIDs(updates []Update) []string {
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.PackageID)
	}
	return ids
}
