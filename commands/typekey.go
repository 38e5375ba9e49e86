package commands

import "reflect"

// typeKey returns the fully qualified type name of v (import path plus
// type name), unwrapping a leading pointer indirection. This is the
// routing key the dispatcher resolves handlers by (spec.md §3: "Routing
// key is its fully qualified type name").
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

// typeKeyOf returns the routing key for a generic type parameter
// without needing a live value, used at Register time.
func typeKeyOf[T any]() string {
	var zero T
	return typeKey(zero)
}
