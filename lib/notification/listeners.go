// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notification

// listeners is an ordered handler registry. Handlers run in
// registration order. Removal copies the slice so that a handler may
// unsubscribe itself (or another handler) while an emit is iterating.
type listeners[F any] struct {
	nextID int
	items  []listener[F]
}

type listener[F any] struct {
	id      int
	handler F
}

// add registers handler and returns its unsubscribe function. The
// unsubscribe function is idempotent.
func (l *listeners[F]) add(handler F) func() {
	l.nextID++
	id := l.nextID
	l.items = append(l.items, listener[F]{id: id, handler: handler})
	return func() { l.remove(id) }
}

func (l *listeners[F]) remove(id int) {
	for i := range l.items {
		if l.items[i].id == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return
		}
	}
}

// each calls visit for every registered handler, over a stable view
// of the registry taken at the start of the call.
func (l *listeners[F]) each(visit func(F)) {
	for _, item := range l.items {
		visit(item.handler)
	}
}
