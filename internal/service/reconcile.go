package service

import (
	"gig_marketplace/internal/domain"
)

// MergeOutcome tells what Merge did with an incoming durable row.
type MergeOutcome int

const (
	MergeDuplicate MergeOutcome = iota
	MergeReplaced
	MergeAppended
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeReplaced:
		return "replaced"
	case MergeAppended:
		return "appended"
	default:
		return "duplicate"
	}
}

// Merge folds a durable message into list and returns a new slice; list is never modified.
// Both the send confirmation and the realtime push go through here, so the result does not
// depend on which of them lands first:
//
//  1. if incoming.ID is already present the row is a duplicate; the hinted placeholder, if
//     still present, is dropped since its durable twin is shown
//  2. otherwise the hinted placeholder is replaced in place
//  3. otherwise the first placeholder from the same sender with the same content (or the same
//     non-nil attachment URL) is replaced
//  4. otherwise incoming is appended
func Merge(list []domain.Message, incoming domain.Message, placeholderID string) ([]domain.Message, MergeOutcome) {
	if indexOf(list, incoming.ID) >= 0 {
		if placeholderID != "" && indexOf(list, placeholderID) >= 0 {
			return Remove(list, placeholderID), MergeDuplicate
		}
		return list, MergeDuplicate
	}

	idx := -1
	if placeholderID != "" {
		idx = indexOf(list, placeholderID)
	}
	if idx < 0 {
		idx = matchPlaceholder(list, incoming)
	}
	if idx >= 0 {
		next := make([]domain.Message, len(list))
		copy(next, list)
		next[idx] = incoming
		return next, MergeReplaced
	}

	next := make([]domain.Message, len(list), len(list)+1)
	copy(next, list)
	return append(next, incoming), MergeAppended
}

// Remove returns list without the message with id.
func Remove(list []domain.Message, id string) []domain.Message {
	next := make([]domain.Message, 0, len(list))
	for _, m := range list {
		if m.ID != id {
			next = append(next, m)
		}
	}
	return next
}

// Contains reports whether a message with id is in list.
func Contains(list []domain.Message, id string) bool {
	return indexOf(list, id) >= 0
}

func indexOf(list []domain.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func matchPlaceholder(list []domain.Message, incoming domain.Message) int {
	for i, m := range list {
		if !m.IsPlaceholder() || m.SenderID != incoming.SenderID {
			continue
		}
		if m.Content == incoming.Content {
			return i
		}
		if m.AttachmentURL != nil && incoming.AttachmentURL != nil && *m.AttachmentURL == *incoming.AttachmentURL {
			return i
		}
	}
	return -1
}
