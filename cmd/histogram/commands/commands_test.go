package commands

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const fixtureRange = "--from=2026-10-17T12:00:00Z"

// fixture writes two daily segments and a config pointing at them.
func fixture(t *testing.T, extra string) string {
	t.Helper()

	dir := t.TempDir()

	segments := map[string][]string{
		"logs-2026.10.18.jsonl": {
			`{"@timestamp":"2026-10-18T01:05:00Z","level":"error","latency":120}`,
			`{"@timestamp":"2026-10-18T01:20:00Z","level":"info","latency":30}`,
			`{"@timestamp":"2026-10-18T02:10:00Z","level":"error","latency":80}`,
		},
		"logs-2026.10.17.jsonl": {
			`{"@timestamp":"2026-10-17T23:30:00Z","level":"info","latency":10}`,
		},
	}

	for name, lines := range segments {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	}

	cfg := `source:
  backend: dir
  path: ` + dir + `
  pattern: "[logs-]2006.01.02"
  span: day
logging:
  level: error
` + extra

	path := filepath.Join(dir, "histogram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return stdout.String(), stderr.String(), err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
