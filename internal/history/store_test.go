package history

import (
	"fmt"
	"testing"
)

func TestAppendUser_ReturnsContextIncludingNewTurn(t *testing.T) {
	s := NewStore(10)

	turns := s.AppendUser("u1_c1", "hello")
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "hello" {
		t.Errorf("turns[0] = %+v, want user/hello", turns[0])
	}

	s.AppendAssistant("u1_c1", "hi there")
	turns = s.AppendUser("u1_c1", "how are you")
	want := []struct{ role, content string }{
		{"user", "hello"},
		{"assistant", "hi there"},
		{"user", "how are you"},
	}
	if len(turns) != len(want) {
		t.Fatalf("len(turns) = %d, want %d", len(turns), len(want))
	}
	for i, w := range want {
		if turns[i].Role != w.role || turns[i].Content != w.content {
			t.Errorf("turns[%d] = %+v, want %s/%s", i, turns[i], w.role, w.content)
		}
	}
}

func TestStore_BoundsContextDroppingOldest(t *testing.T) {
	s := NewStore(10)
	key := "u1_c1"

	// 8 user/assistant pairs overflow a capacity of 10 by 6 turns.
	for i := 0; i < 8; i++ {
		s.AppendUser(key, fmt.Sprintf("q%d", i))
		s.AppendAssistant(key, fmt.Sprintf("a%d", i))
	}

	turns := s.Context(key)
	if len(turns) != 10 {
		t.Fatalf("len(turns) = %d, want 10", len(turns))
	}
	// Oldest surviving turn is q3: pairs 0..2 were dropped.
	if turns[0].Role != "user" || turns[0].Content != "q3" {
		t.Errorf("turns[0] = %+v, want user/q3", turns[0])
	}
	if last := turns[len(turns)-1]; last.Role != "assistant" || last.Content != "a7" {
		t.Errorf("last turn = %+v, want assistant/a7", last)
	}
}

func TestStore_IsolatesConversationKeys(t *testing.T) {
	s := NewStore(10)

	s.AppendUser("alice_chat1", "from alice")
	s.AppendUser("bob_chat1", "from bob")

	if got := s.Context("alice_chat1"); len(got) != 1 || got[0].Content != "from alice" {
		t.Errorf("alice context = %+v, want a single turn", got)
	}
	if got := s.Context("bob_chat1"); len(got) != 1 || got[0].Content != "from bob" {
		t.Errorf("bob context = %+v, want a single turn", got)
	}
	if got := s.Context("nobody_chat9"); len(got) != 0 {
		t.Errorf("unknown key context = %+v, want empty", got)
	}
}

func TestContext_ReturnsCopy(t *testing.T) {
	s := NewStore(10)
	s.AppendUser("k", "original")

	turns := s.Context("k")
	turns[0].Content = "mutated"

	if got := s.Context("k"); got[0].Content != "original" {
		t.Errorf("store turn = %q, caller mutation leaked in", got[0].Content)
	}
}
