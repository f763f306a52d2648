package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEventStampsTimestamp(t *testing.T) {
	before := time.Now().UTC()
	ev := NewEvent(EventTurnCompleted)
	after := time.Now().UTC()

	require.Equal(t, EventTurnCompleted, ev.Type)
	require.NotEmpty(t, ev.Timestamp)

	stamped, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	require.NoError(t, err)
	require.False(t, stamped.Before(before.Add(-time.Second)))
	require.False(t, stamped.After(after.Add(time.Second)))
}

func TestEventOmitsEmptyFieldsInJSON(t *testing.T) {
	ev := NewEvent(EventPartialTranscript)
	ev.Text = "hello"

	require.NotContains(t, mustMarshal(t, ev), `"audio_data"`)
	require.NotContains(t, mustMarshal(t, ev), `"turn_number"`)
	require.Contains(t, mustMarshal(t, ev), `"text":"hello"`)
}

func mustMarshal(t *testing.T, ev Event) string {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return string(data)
}
