package log

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerFiltersLevel(t *testing.T) {
	lvl, err := ParseLevel("info")
	require.NoError(t, err)

	prev := Logger
	t.Cleanup(func() { Logger = prev })

	buf := &bytes.Buffer{}
	InitLoggerWithWriter(buf, "logfmt", lvl)

	level.Debug(Logger).Log("msg", "hidden")
	level.Info(With("scan")).Log("msg", "shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "msg=shown")
	require.Contains(t, out, "component=scan")
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	_, err := ParseLevel("loud")
	require.Error(t, err)
}
