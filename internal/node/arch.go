package node

import "strings"

// archAliases maps every recognized spelling to its canonical form. Anything
// absent from this table passes through lower-cased, per spec: compatibility
// is strict equality after normalization, never cross-architecture emulation.
var archAliases = map[string]string{
	"x86_64": "x86_64",
	"amd64":  "x86_64",
	"x64":    "x86_64",

	"aarch64": "aarch64",
	"arm64":   "aarch64",

	"i686": "i686",
	"i386": "i686",
	"x86":  "i686",

	"armv7l": "armv7l",
	"armv7":  "armv7l",
	"arm":    "armv7l",
}

// NormalizeArchitecture canonicalizes a reported CPU architecture string so
// that compatibility checks between nodes and workload requirements can use
// strict equality.
func NormalizeArchitecture(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := archAliases[lower]; ok {
		return canonical
	}
	return lower
}

// ArchitecturesCompatible reports whether two raw architecture strings are
// compatible, i.e. normalize to the same canonical form.
func ArchitecturesCompatible(a, b string) bool {
	return NormalizeArchitecture(a) == NormalizeArchitecture(b)
}
