// Package timeline maintains the ordered, deduplicated append-only message
// log for an open conversation. Three producers feed it: the initial history
// fetch, optimistic local echoes, and realtime pushes.
package timeline

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-console-core/internal/model"
)

// localEchoPrefix marks optimistic entries that have not been confirmed by
// the server yet.
const localEchoPrefix = "local-"

// reconcileWindow bounds how far apart in time a local echo and its
// authoritative counterpart may be and still be treated as the same message.
const reconcileWindow = 30 * time.Second

// Merge appends incoming messages that are not already present by id.
// It is pure, order-preserving, commutative with respect to duplicate
// delivery and idempotent: applying the same incoming set twice yields the
// same result as applying it once. Ties on createdAt keep arrival order;
// nothing is ever re-sorted.
func Merge(existing []model.Message, incoming ...model.Message) []model.Message {
	seen := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}

	out := make([]model.Message, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Replace swaps the timeline wholesale for a freshly fetched history,
// deduplicating by id in case the fetch itself carries repeats.
func Replace(history []model.Message) []model.Message {
	return Merge(nil, history...)
}

// NewLocalEcho builds the optimistic entry shown immediately after a send.
// The id is temporary and local; reconciliation replaces it once the
// authoritative copy arrives.
func NewLocalEcho(conversationID, text string, now time.Time) model.Message {
	return model.Message{
		ID:             localEchoPrefix + uuid.NewString(),
		ConversationID: conversationID,
		Sender:         model.SenderUser,
		Text:           text,
		CreatedAt:      now,
	}
}

// IsLocalEcho reports whether a message is an unconfirmed optimistic entry.
func IsLocalEcho(m model.Message) bool {
	return strings.HasPrefix(m.ID, localEchoPrefix)
}

// Remove drops a message by id, used to roll back a failed optimistic send.
func Remove(existing []model.Message, id string) []model.Message {
	out := make([]model.Message, 0, len(existing))
	for _, m := range existing {
		if m.ID == id {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Reconcile merges an authoritative message, replacing the matching local
// echo in place when one exists: same conversation, same echoing sender
// (user or agent), identical text, createdAt within the reconcile window.
// There is no guaranteed correlation beyond that, so an authoritative copy
// that matches nothing is merged normally; the rare duplicate this can leave
// behind is accepted rather than risking data loss.
func Reconcile(existing []model.Message, authoritative model.Message) []model.Message {
	for _, m := range existing {
		if m.ID == authoritative.ID {
			return existing
		}
	}

	if authoritative.Sender == model.SenderUser || authoritative.Sender == model.SenderAgent {
		for i, m := range existing {
			if !IsLocalEcho(m) {
				continue
			}
			if m.ConversationID != authoritative.ConversationID || m.Sender != authoritative.Sender {
				continue
			}
			if m.Text != authoritative.Text {
				continue
			}
			if delta := authoritative.CreatedAt.Sub(m.CreatedAt); delta < -reconcileWindow || delta > reconcileWindow {
				continue
			}
			out := make([]model.Message, len(existing))
			copy(out, existing)
			out[i] = authoritative
			return out
		}
	}

	return Merge(existing, authoritative)
}
