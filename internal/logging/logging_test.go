package logging

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppendsTimestampedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "email_log.txt")

	for _, msg := range []string{"first run", "second run"} {
		logger, closer, err := Open(path)
		require.NoError(t, err)
		logger.Info(msg, "count", 2)
		logger.Debug("hidden")
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first run")
	assert.Contains(t, lines[1], "second run")
	assert.Contains(t, lines[1], "count=2")
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} INFO`), lines[0])
}

func TestOpen_BadPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, _, err := Open(filepath.Join(blocker, "log.txt"))
	assert.Error(t, err)
}
