// Package special encodes the reserved archive files: (listfile),
// (attributes) and (signature).
package special

import (
	"bufio"
	"bytes"
	"strings"
)

// Reserved archive names.
const (
	ListfileName   = "(listfile)"
	AttributesName = "(attributes)"
	SignatureName  = "(signature)"
)

// IsReserved reports whether name is one of the reserved files.
func IsReserved(name string) bool {
	switch strings.ToLower(name) {
	case ListfileName, AttributesName, SignatureName:
		return true
	}
	return false
}

// ParseListfile returns the names listed in a (listfile). Blank lines and
// lines starting with ';' or '#' are skipped, and anything after a ';' on a
// line is metadata and dropped. Names are returned in file order with
// duplicates removed case-insensitively.
func ParseListfile(data []byte) []string {
	var (
		names []string
		seen  = make(map[string]struct{})
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), len(data)+1)
	sc.Split(splitLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(line, "/", `\`))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, line)
	}
	return names
}

// splitLines splits on \r, \n and \r\n.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		adv := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			adv++
		}
		return adv, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// FormatListfile encodes names one per line with CRLF endings.
func FormatListfile(names []string) []byte {
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}
