package state

import "reflect"

// Subscription is the cancellable handle every OnChange variant
// returns (spec.md §4.I "Subscription handle").
type Subscription struct {
	cancel func()
}

// Cancel removes the observer. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func typeKeyOf[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// OnChange observes every state transition and progress update across
// all tasks (spec.md §4.I dimension 1: Global).
func (s *Store) OnChange(handler func(TaskState)) *Subscription {
	id := newObserverID()
	s.global.add(id, handler)
	return &Subscription{cancel: func() { s.global.remove(id) }}
}

// OnChangeExtension observes only tasks published with the given
// ExtensionID (spec.md §4.I dimension 2: By ExtensionId).
func (s *Store) OnChangeExtension(extensionID string, handler func(TaskState)) *Subscription {
	r := s.byExtension.getOrCreate(extensionID)
	id := newObserverID()
	r.add(id, handler)
	return &Subscription{cancel: func() { r.remove(id) }}
}

// OnChangeType observes tasks of a single published type T across all
// extensions, down-casting TaskData and suppressing mismatches (spec.md
// §4.I dimension 3: By TaskType, with the typed-observer down-cast).
func OnChangeType[T any](s *Store, handler func(TaskState, T)) *Subscription {
	key := typeKeyOf[T]()
	r := s.byType.getOrCreate(key)
	id := newObserverID()
	r.add(id, func(st TaskState) {
		if data, ok := st.TaskData.(T); ok {
			handler(st, data)
		}
	})
	return &Subscription{cancel: func() { r.remove(id) }}
}

// OnChangeTypeExtension observes tasks of type T restricted to one
// ExtensionID (spec.md §4.I dimension 4: By TaskType+ExtensionId).
func OnChangeTypeExtension[T any](s *Store, extensionID string, handler func(TaskState, T)) *Subscription {
	key := compositeKey(typeKeyOf[T](), extensionID)
	r := s.byTypeExt.getOrCreate(key)
	id := newObserverID()
	r.add(id, func(st TaskState) {
		if data, ok := st.TaskData.(T); ok {
			handler(st, data)
		}
	})
	return &Subscription{cancel: func() { r.remove(id) }}
}
