package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "war3map.j", "war3map.j"},
		{"forward slashes", "units/human/footman.mdx", `units\human\footman.mdx`},
		{"backslashes kept", `units\human`, `units\human`},
		{"leading separator", `\units\human`, `units\human`},
		{"trailing separator", "units/human/", `units\human`},
		{"mixed separators", `units/human\footman`, `units\human\footman`},
		{"double separators", `units\\human//footman`, `units\human\footman`},
		{"only separators", `/\/`, ""},
		{"empty", "", ""},
		{"case preserved", "Units/Human", `Units\Human`},
		{"reserved name", "(listfile)", "(listfile)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeName(tt.input))
		})
	}
}
