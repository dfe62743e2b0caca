// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"slices"
	"strings"

	"github.com/bureau-foundation/unread/lib/ref"
)

// Receipt types. Private receipts move the read marker without being
// shared with other room members.
const (
	ReceiptTypeRead        = "m.read"
	ReceiptTypeReadPrivate = "m.read.private"
)

// Receipt is one user's read receipt, flattened out of an m.receipt
// ephemeral event.
type Receipt struct {
	EventID   ref.EventID
	UserID    ref.UserID
	Type      string
	Timestamp int64
	// ThreadID is set for threaded receipts; empty or "main" means
	// the main timeline.
	ThreadID string
}

// Unthreaded reports whether the receipt applies to the main
// timeline.
func (r Receipt) Unthreaded() bool { return r.ThreadID == "" || r.ThreadID == "main" }

// ParseReceipts flattens the content of an m.receipt event:
//
//	{"$event": {"m.read": {"@user:server": {"ts": 1, "thread_id": "main"}}}}
//
// Entries with malformed identifiers or unknown receipt types are
// skipped. Other event types yield nil. The result is sorted by
// timestamp (then user, then event ID) so that applying receipts in
// order leaves each user's newest receipt last.
func ParseReceipts(event Event) []Receipt {
	if event.Type != ref.EventTypeReceipt {
		return nil
	}

	var receipts []Receipt
	for rawEventID, byType := range event.Content {
		eventID, err := ref.ParseEventID(rawEventID)
		if err != nil {
			continue
		}
		types, ok := byType.(map[string]any)
		if !ok {
			continue
		}
		for receiptType, byUser := range types {
			if receiptType != ReceiptTypeRead && receiptType != ReceiptTypeReadPrivate {
				continue
			}
			users, ok := byUser.(map[string]any)
			if !ok {
				continue
			}
			for rawUserID, details := range users {
				userID, err := ref.ParseUserID(rawUserID)
				if err != nil {
					continue
				}
				receipt := Receipt{EventID: eventID, UserID: userID, Type: receiptType}
				if fields, ok := details.(map[string]any); ok {
					if ts, ok := fields["ts"].(float64); ok {
						receipt.Timestamp = int64(ts)
					}
					if threadID, ok := fields["thread_id"].(string); ok {
						receipt.ThreadID = threadID
					}
				}
				receipts = append(receipts, receipt)
			}
		}
	}

	slices.SortFunc(receipts, func(a, b Receipt) int {
		if a.Timestamp != b.Timestamp {
			if a.Timestamp < b.Timestamp {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.UserID.String(), b.UserID.String()); c != 0 {
			return c
		}
		return strings.Compare(a.EventID.String(), b.EventID.String())
	})
	return receipts
}
