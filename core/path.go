package mpq

import "strings"

// NormalizeName converts a user-provided name to the form stored in
// archives.
//
// It performs the following transformations:
//   - Converts "/" to "\": "units/human" → "units\human"
//   - Strips leading and trailing separators: "\war3map.j\" → "war3map.j"
//   - Collapses consecutive separators: "a\\b" → "a\b"
//
// An empty result is returned for names made only of separators. Case is
// preserved; lookups ignore it.
func NormalizeName(name string) string {
	name = strings.Trim(strings.ReplaceAll(name, "/", `\`), `\`)
	if !strings.Contains(name, `\\`) {
		return name
	}
	parts := strings.Split(name, `\`)
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, `\`)
}
