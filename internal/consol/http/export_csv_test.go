package http

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVStreamerCommentsAndRows(t *testing.T) {
	var buf bytes.Buffer
	s := newCSVStreamer(&buf)

	require.NoError(t, s.writeComment("# header line"))
	require.NoError(t, s.writeRow([]string{"account_code", "debit"}))
	require.NoError(t, s.writeRow([]string{"1130", "10000.00"}))
	require.NoError(t, s.Flush())

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "# header line\r\n"))
	require.Contains(t, out, "account_code,debit\r\n")
	require.Contains(t, out, "1130,10000.00\r\n")
}

func TestCSVStreamerFlushesInBatches(t *testing.T) {
	var buf bytes.Buffer
	s := newCSVStreamer(&buf)
	s.flushEvery = 2

	require.NoError(t, s.writeRow([]string{"a"}))
	require.Zero(t, buf.Len(), "first row stays buffered")
	require.NoError(t, s.writeRow([]string{"b"}))
	require.NotZero(t, buf.Len(), "batch boundary must flush")
}

func TestFormatAmountGroupsDigits(t *testing.T) {
	require.Equal(t, "1,234,567.89", formatAmount(1234567.89))
	require.Equal(t, "0.00", formatAmount(0))
	require.Equal(t, "-42.50", formatAmount(-42.5))
}
