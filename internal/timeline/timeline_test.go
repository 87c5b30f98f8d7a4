package timeline

import (
	"testing"
	"time"

	"chat-console-core/internal/model"
)

var baseTime = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func msg(id, text string, sender model.Sender, at time.Time) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: "conv-1",
		Sender:         sender,
		Text:           text,
		CreatedAt:      at,
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	existing := []model.Message{
		msg("m1", "hi", model.SenderUser, baseTime),
	}
	incoming := []model.Message{
		msg("m1", "hi", model.SenderUser, baseTime),
		msg("m2", "hello", model.SenderBot, baseTime.Add(time.Second)),
	}

	once := Merge(existing, incoming...)
	twice := Merge(once, incoming...)

	if len(once) != 2 {
		t.Fatalf("expected 2 messages after merge, got %d", len(once))
	}
	if len(twice) != len(once) {
		t.Fatalf("second merge changed the timeline: %d vs %d", len(twice), len(once))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Fatalf("order changed at %d: %s vs %s", i, once[i].ID, twice[i].ID)
		}
	}
}

func TestMergePreservesArrivalOrderOnTies(t *testing.T) {
	same := baseTime
	timelineMsgs := Merge(nil,
		msg("a", "first", model.SenderUser, same),
		msg("b", "second", model.SenderBot, same),
		msg("c", "third", model.SenderAgent, same),
	)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if timelineMsgs[i].ID != id {
			t.Fatalf("tie order broken at %d: got %s, want %s", i, timelineMsgs[i].ID, id)
		}
	}
}

func TestMergeKeepsNonDecreasingOrder(t *testing.T) {
	out := Merge(nil, msg("m1", "a", model.SenderUser, baseTime))
	out = Merge(out, msg("m2", "b", model.SenderBot, baseTime.Add(time.Second)))
	out = Merge(out, msg("m3", "c", model.SenderBot, baseTime.Add(2*time.Second)))

	for i := 1; i < len(out); i++ {
		if out[i].CreatedAt.Before(out[i-1].CreatedAt) {
			t.Fatalf("createdAt decreased at index %d", i)
		}
	}
}

func TestMergeSkipsEmptyIDs(t *testing.T) {
	out := Merge(nil, model.Message{Text: "ghost"})
	if len(out) != 0 {
		t.Fatalf("message without id must not be appended: %+v", out)
	}
}

func TestMergeDoesNotAliasExisting(t *testing.T) {
	base := make([]model.Message, 1, 4)
	base[0] = msg("m1", "hi", model.SenderUser, baseTime)

	a := Merge(base, msg("m2", "left", model.SenderBot, baseTime.Add(time.Second)))
	b := Merge(base, msg("m3", "right", model.SenderBot, baseTime.Add(time.Second)))

	if a[1].ID != "m2" || a[1].Text != "left" {
		t.Fatalf("first merge result mutated through shared backing array: %+v", a[1])
	}
	if b[1].ID != "m3" {
		t.Fatalf("second merge result wrong: %+v", b[1])
	}
	if len(base) != 1 {
		t.Fatalf("input slice length changed: %d", len(base))
	}
}

func TestReconcileReplacesLocalEcho(t *testing.T) {
	echo := NewLocalEcho("conv-1", "hello", baseTime)
	existing := Merge(nil, echo)

	authoritative := msg("m42", "hello", model.SenderUser, baseTime.Add(time.Second))
	out := Reconcile(existing, authoritative)

	if len(out) != 1 {
		t.Fatalf("expected exactly one hello entry, got %d", len(out))
	}
	if out[0].ID != "m42" {
		t.Fatalf("echo not replaced by authoritative message: %s", out[0].ID)
	}
	if IsLocalEcho(out[0]) {
		t.Fatal("reconciled message still marked as local echo")
	}
}

func TestReconcileReplacesAgentEcho(t *testing.T) {
	echo := NewLocalEcho("conv-1", "on it", baseTime)
	echo.Sender = model.SenderAgent
	existing := Merge(nil, echo)

	authoritative := msg("m50", "on it", model.SenderAgent, baseTime.Add(time.Second))
	out := Reconcile(existing, authoritative)

	if len(out) != 1 {
		t.Fatalf("agent echo not reconciled: %d entries %+v", len(out), out)
	}
	if out[0].ID != "m50" {
		t.Fatalf("echo not replaced by authoritative message: %s", out[0].ID)
	}
}

func TestReconcileOutsideWindowKeepsBoth(t *testing.T) {
	echo := NewLocalEcho("conv-1", "hello", baseTime)
	existing := Merge(nil, echo)

	late := msg("m42", "hello", model.SenderUser, baseTime.Add(5*time.Minute))
	out := Reconcile(existing, late)

	// Documented trade-off: no correlation beyond text+sender+window, so a
	// late authoritative copy is appended rather than guessed to be the echo.
	if len(out) != 2 {
		t.Fatalf("expected echo kept alongside late authoritative copy, got %d entries", len(out))
	}
}

func TestReconcileIgnoresAlreadyPresent(t *testing.T) {
	authoritative := msg("m42", "hello", model.SenderUser, baseTime)
	existing := Merge(nil, authoritative)

	out := Reconcile(existing, authoritative)
	if len(out) != 1 {
		t.Fatalf("duplicate authoritative message appended: %d entries", len(out))
	}
}

func TestReconcileDoesNotTouchOtherSenders(t *testing.T) {
	echo := NewLocalEcho("conv-1", "hello", baseTime)
	existing := Merge(nil, echo)

	botReply := msg("m43", "hello", model.SenderBot, baseTime.Add(time.Second))
	out := Reconcile(existing, botReply)

	if len(out) != 2 {
		t.Fatalf("bot message must merge, not reconcile: %d entries", len(out))
	}
	if out[0].ID != echo.ID {
		t.Fatal("local echo was displaced by a bot message")
	}
}

func TestRemoveRollsBackEcho(t *testing.T) {
	echo := NewLocalEcho("conv-1", "hello", baseTime)
	existing := Merge(nil, msg("m1", "hi", model.SenderUser, baseTime), echo)

	out := Remove(existing, echo.ID)
	if len(out) != 1 || out[0].ID != "m1" {
		t.Fatalf("rollback removed the wrong entry: %+v", out)
	}
}

func TestReplaceDeduplicatesHistory(t *testing.T) {
	history := []model.Message{
		msg("m1", "hi", model.SenderUser, baseTime),
		msg("m1", "hi", model.SenderUser, baseTime),
		msg("m2", "hello", model.SenderBot, baseTime.Add(time.Second)),
	}
	out := Replace(history)
	if len(out) != 2 {
		t.Fatalf("expected history deduplicated to 2 entries, got %d", len(out))
	}
}
