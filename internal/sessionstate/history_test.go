package sessionstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistoryStoreAppendsInPairs(t *testing.T) {
	s := NewHistoryStore()

	empty := s.GetOrInit("sess-1")
	require.Empty(t, empty)

	s.AppendExchange("sess-1", "hello", "hi there")
	s.AppendExchange("sess-1", "how are you", "doing well")

	history := s.GetOrInit("sess-1")
	require.Len(t, history, 4)
	require.Equal(t, HistoryEntry{Role: RoleUser, Text: "hello"}, history[0])
	require.Equal(t, HistoryEntry{Role: RoleAssistant, Text: "hi there"}, history[1])
	require.Equal(t, HistoryEntry{Role: RoleUser, Text: "how are you"}, history[2])
	require.Equal(t, HistoryEntry{Role: RoleAssistant, Text: "doing well"}, history[3])
}

func TestHistoryStoreGetOrInitReturnsCopy(t *testing.T) {
	s := NewHistoryStore()
	s.AppendExchange("sess-1", "a", "b")

	copy1 := s.GetOrInit("sess-1")
	copy1[0].Text = "mutated"

	copy2 := s.GetOrInit("sess-1")
	require.Equal(t, "a", copy2[0].Text)
}

func TestHistoryStoreDelete(t *testing.T) {
	s := NewHistoryStore()
	s.AppendExchange("sess-1", "a", "b")
	s.Delete("sess-1")

	require.Empty(t, s.GetOrInit("sess-1"))
}
