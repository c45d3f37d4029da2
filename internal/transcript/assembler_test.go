package transcript

import (
	"testing"
)

func collect(policy FlushPolicy) (*Assembler, *[]Message) {
	var got []Message
	a := New(policy, func(m Message) { got = append(got, m) })
	return a, &got
}

func TestRoleSwitchCoalescesFragments(t *testing.T) {
	t.Parallel()

	a, got := collect(FlushOnRoleSwitch)
	a.AddFragment(RoleUser, "Hel")
	a.AddFragment(RoleUser, "lo")
	a.AddFragment(RoleAgent, "Hi")

	if len(*got) != 1 {
		t.Fatalf("emitted %d messages before flush, want 1", len(*got))
	}
	if m := (*got)[0]; m.Role != RoleUser || m.Text != "Hello" {
		t.Fatalf("first message = %s %q, want user \"Hello\"", m.Role, m.Text)
	}

	a.TurnComplete()
	if len(*got) != 2 {
		t.Fatalf("emitted %d messages after turn complete, want 2", len(*got))
	}
	if m := (*got)[1]; m.Role != RoleAgent || m.Text != "Hi" {
		t.Fatalf("second message = %s %q, want agent \"Hi\"", m.Role, m.Text)
	}
}

func TestRoleSwitchFlushesOnTurnComplete(t *testing.T) {
	t.Parallel()

	a, got := collect(FlushOnRoleSwitch)
	a.AddFragment(RoleAgent, "Done")
	a.TurnComplete()

	if len(*got) != 1 || (*got)[0].Text != "Done" {
		t.Fatalf("messages = %+v, want one agent \"Done\"", *got)
	}

	// A turn boundary with nothing buffered emits nothing.
	a.TurnComplete()
	if len(*got) != 1 {
		t.Fatalf("empty turn emitted a message: %+v", *got)
	}
}

func TestTurnBatchOrdersUserFirst(t *testing.T) {
	t.Parallel()

	a, got := collect(FlushOnTurnComplete)
	// Fragments interleave on the wire, but the batch closes user-first.
	a.AddFragment(RoleAgent, "Noted, ")
	a.AddFragment(RoleUser, "the demo ")
	a.AddFragment(RoleAgent, "pacing looks fine")
	a.AddFragment(RoleUser, "is at three")

	if len(*got) != 0 {
		t.Fatalf("turn-batch policy emitted %d messages mid-turn, want 0", len(*got))
	}

	a.TurnComplete()
	if len(*got) != 2 {
		t.Fatalf("emitted %d messages, want 2", len(*got))
	}
	if m := (*got)[0]; m.Role != RoleUser || m.Text != "the demo is at three" {
		t.Fatalf("first = %s %q, want user message", m.Role, m.Text)
	}
	if m := (*got)[1]; m.Role != RoleAgent || m.Text != "Noted, pacing looks fine" {
		t.Fatalf("second = %s %q, want agent message", m.Role, m.Text)
	}
}

func TestWhitespaceOnlyNeverEmitted(t *testing.T) {
	t.Parallel()

	a, got := collect(FlushOnRoleSwitch)
	a.AddFragment(RoleUser, "   \n\t")
	a.TurnComplete()
	if len(*got) != 0 {
		t.Fatalf("whitespace-only buffer emitted: %+v", *got)
	}

	b, gotB := collect(FlushOnTurnComplete)
	b.AddFragment(RoleAgent, "  ")
	b.TurnComplete()
	if len(*gotB) != 0 {
		t.Fatalf("whitespace-only batch emitted: %+v", *gotB)
	}
}

func TestEmittedTextIsTrimmed(t *testing.T) {
	t.Parallel()

	a, got := collect(FlushOnRoleSwitch)
	a.AddFragment(RoleUser, "  hello ")
	a.TurnComplete()
	if len(*got) != 1 || (*got)[0].Text != "hello" {
		t.Fatalf("messages = %+v, want trimmed \"hello\"", *got)
	}
}

func TestFlushDrainsTrailingText(t *testing.T) {
	t.Parallel()

	a, got := collect(FlushOnTurnComplete)
	a.AddFragment(RoleUser, "cut off mid")
	a.Flush()
	if len(*got) != 1 || (*got)[0].Text != "cut off mid" {
		t.Fatalf("messages = %+v, want trailing text preserved", *got)
	}

	// Flush with nothing buffered is a no-op.
	a.Flush()
	if len(*got) != 1 {
		t.Fatalf("idle Flush emitted: %+v", *got)
	}
}
