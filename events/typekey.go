package events

import "reflect"

// typeKey mirrors commands.typeKey: fully qualified type name, pointer
// indirection unwrapped. Event routing keys use the same convention
// (spec.md §3) so Publish and Subscribe agree on a key without either
// side needing to pass strings around by hand.
func typeKey(v any) string {
	t := reflect.TypeOf(v)
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

func typeKeyOf[T any]() string {
	var zero T
	return typeKey(zero)
}
