package build

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "dev (commit unknown, built unknown)", String())
}

func TestAttrs(t *testing.T) {
	assert.Equal(t, []any{
		slog.String("version", "dev"),
		slog.String("commit", "unknown"),
		slog.String("build_date", "unknown"),
	}, Attrs())
}
