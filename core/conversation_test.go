package session

import "testing"

func TestConversationAppendAssignsSequentialIndexes(t *testing.T) {
	var conv conversation

	first := conv.append(RoleUser, "hello", nil)
	second := conv.append(RoleAssistant, "hi", nil)

	if first.Index != 0 || second.Index != 1 {
		t.Fatalf("expected sequential indexes 0 and 1, got %d and %d", first.Index, second.Index)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct non-empty entry ids, got %q and %q", first.ID, second.ID)
	}
}

func TestConversationSnapshotIsIsolated(t *testing.T) {
	var conv conversation
	conv.append(RoleUser, "hello", []byte{0x01, 0x02})

	snapshot := conv.snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected one entry in snapshot, got %d", len(snapshot))
	}

	snapshot[0].Text = "mutated"
	snapshot[0].Audio[0] = 0xFF
	conv.append(RoleAssistant, "hi", nil)

	current := conv.snapshot()
	if current[0].Text != "hello" {
		t.Fatalf("snapshot mutation leaked into conversation: %q", current[0].Text)
	}
	if current[0].Audio[0] != 0x01 {
		t.Fatalf("snapshot audio mutation leaked into conversation: %#x", current[0].Audio[0])
	}
	if len(snapshot) != 1 {
		t.Fatalf("later appends must not grow an earlier snapshot")
	}
}

func TestConversationClear(t *testing.T) {
	var conv conversation
	conv.append(RoleUser, "hello", nil)
	conv.clear()

	if entries := conv.snapshot(); len(entries) != 0 {
		t.Fatalf("expected empty conversation after clear, got %d entries", len(entries))
	}

	if entry := conv.append(RoleUser, "again", nil); entry.Index != 0 {
		t.Fatalf("expected indexes to restart after clear, got %d", entry.Index)
	}
}
