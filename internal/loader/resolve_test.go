package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		specifier string
		base      string
		want      string
		wantErr   bool
	}{
		{"bare name", "plots", "", "plots", false},
		{"bare name ignores base", "plots", "file:///srv/main.js", "plots", false},
		{"absolute path cleaned", "/srv/./mods/../plots.js", "", "/srv/plots.js", false},
		{"url cleaned", "https://cdn.example.com/a/../b.js", "", "https://cdn.example.com/b.js", false},
		{"relative to file url", "./plots.js", "file:///srv/scripts/main.js", "file:///srv/scripts/plots.js", false},
		{"parent relative to path", "../lib/util.js", "/srv/scripts/main.js", "/srv/lib/util.js", false},
		{"surrounding space trimmed", "  plots  ", "", "plots", false},
		{"relative to directory path", "./plots.js", "/srv/scripts/", "/srv/scripts/plots.js", false},
		{"path base with space stays unescaped", "./x.js", "/srv/my mods/modules.yaml", "/srv/my mods/x.js", false},
		{"path base with percent", "./x.js", "/srv/100%/modules.yaml", "/srv/100%/x.js", false},
		{"file url base with space is escaped", "./x.js", "file:///srv/my%20mods/main.js", "file:///srv/my%20mods/x.js", false},
		{"relative without base", "./plots.js", "", "", true},
		{"relative with relative base", "./plots.js", "scripts/main.js", "", true},
		{"empty", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.specifier, tt.base)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	a, err := Resolve("./x.js", "/srv/main.js")
	require.NoError(t, err)
	b, err := Resolve("/srv/y/../x.js", "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolve_RelativeAndAbsolutePathsCollapse(t *testing.T) {
	rel, err := Resolve("./x.js", "/srv/my mods/modules.yaml")
	require.NoError(t, err)
	abs, err := Resolve("/srv/my mods/./x.js", "")
	require.NoError(t, err)
	assert.Equal(t, abs, rel)
}
