/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-callthrottle/log"
)

func TestRecorder(t *testing.T) {
	logRecorder := NewRecorder()
	logRecorder.Warn("message1", log.Int("num", 10), log.String("str", "abc"))
	logRecorder.Info("message2")

	require.Equal(t, 2, len(logRecorder.Entries()))

	_, found := logRecorder.FindEntry("foobar")
	require.False(t, found)

	logEntry, found := logRecorder.FindEntry("message1")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, logEntry.Level)
	require.Equal(t, "message1", logEntry.Text)

	_, found = logRecorder.FindEntry("unknown")
	require.False(t, found)

	logFieldNum, found := logEntry.FindField("num")
	require.True(t, found)
	require.Equal(t, 10, int(logFieldNum.Int))

	logFieldStr, found := logEntry.FindField("str")
	require.True(t, found)
	require.Equal(t, "abc", string(logFieldStr.Bytes))
}

func TestRecorder_CountEntriesAndReset(t *testing.T) {
	rec := NewRecorder()
	logger := rec.With(log.String("throttle", "external_api"))
	logger.Info("admitted")
	logger.Info("admitted")
	logger.WithLevel(log.LevelWarn).Info("admitted")

	require.Equal(t, 2, rec.CountEntries("admitted"))
	entry, found := rec.FindEntry("admitted")
	require.True(t, found)
	field, found := entry.FindField("throttle")
	require.True(t, found)
	require.Equal(t, "external_api", string(field.Bytes))

	rec.Reset()
	require.Empty(t, rec.Entries())
}
