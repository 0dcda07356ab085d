package core

import (
	"testing"
)

func TestMailboxScheduling(t *testing.T) {
	m := newMailbox()

	schedule, ok := m.push(&Message{Data: []byte("1")})
	if !ok || !schedule {
		t.Fatal("first push should schedule")
	}
	schedule, _ = m.push(&Message{Data: []byte("2")})
	if schedule {
		t.Error("push while enqueued should not schedule")
	}

	msgs := m.drain(1, nil)
	if len(msgs) != 1 || string(msgs[0].Data) != "1" {
		t.Fatalf("Expected message 1, got %v", msgs)
	}
	if !m.finishPass() {
		t.Error("non-empty mailbox should be rescheduled")
	}

	msgs = m.drain(16, nil)
	if len(msgs) != 1 || string(msgs[0].Data) != "2" {
		t.Fatalf("Expected message 2, got %v", msgs)
	}
	if m.finishPass() {
		t.Error("empty mailbox should not be rescheduled")
	}

	schedule, _ = m.push(&Message{})
	if !schedule {
		t.Error("push after the flag was cleared should schedule")
	}
}

func TestMailboxFIFO(t *testing.T) {
	m := newMailbox()
	for i := 0; i < 100; i++ {
		m.push(&Message{Session: SessionID(i + 1)})
	}
	msgs := m.drain(1000, nil)
	for i, msg := range msgs {
		if msg.Session != SessionID(i+1) {
			t.Fatalf("position %d holds session %s", i, msg.Session)
		}
	}
}

func TestMailboxClose(t *testing.T) {
	m := newMailbox()
	m.push(&Message{})

	if m.close() {
		t.Error("close of an enqueued mailbox should leave scheduling to the owner")
	}
	if _, ok := m.push(&Message{}); ok {
		t.Error("closed mailbox accepted a message")
	}
	if !m.finishPass() {
		t.Error("closed mailbox should be handed back for release")
	}
	if got := len(m.takeAll()); got != 1 {
		t.Errorf("Expected 1 leftover message, got %d", got)
	}

	idle := newMailbox()
	if !idle.close() {
		t.Error("close of an idle mailbox should schedule it")
	}
}

func TestMailboxHold(t *testing.T) {
	m := newMailbox()
	m.hold()
	if schedule, _ := m.push(&Message{}); schedule {
		t.Error("held mailbox should not schedule")
	}
	if !m.finishPass() {
		t.Error("releasing a hold with queued messages should schedule")
	}
}
