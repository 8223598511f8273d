package util

import "reflect"

// visited maps the address of an original map, slice or pointer to its copy,
// so cyclic values are copied once and their cycles preserved.
type visited map[uintptr]reflect.Value

// Clone returns a deep copy of v. Scalars and strings are returned as-is;
// maps, slices, pointers, arrays, structs and interfaces are copied
// recursively. Unexported struct fields are copied shallowly since reflection
// cannot set them individually.
func Clone[V any](v V) V {
	src := reflect.ValueOf(&v).Elem()
	if isImmutableKind(src.Kind()) {
		return v
	}
	var out V
	reflect.ValueOf(&out).Elem().Set(cloneValue(src, make(visited)))
	return out
}

// DeepCopy is the untyped form of Clone, kept for callers holding interface{} values.
func DeepCopy(src interface{}) interface{} {
	if src == nil {
		return nil
	}
	return cloneValue(reflect.ValueOf(src), make(visited)).Interface()
}

func isImmutableKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

func cloneValue(src reflect.Value, seen visited) reflect.Value {
	if !src.IsValid() || isImmutableKind(src.Kind()) {
		return src
	}

	switch src.Kind() {
	case reflect.Ptr:
		if src.IsNil() {
			return src
		}
		// A struct and its first field share an address; match on type too.
		if cpy, ok := seen[src.Pointer()]; ok && cpy.Type() == src.Type() {
			return cpy
		}
		cpy := reflect.New(src.Type().Elem())
		// Register before recursing to break cycles.
		seen[src.Pointer()] = cpy
		cpy.Elem().Set(cloneValue(src.Elem(), seen))
		return cpy

	case reflect.Interface:
		if src.IsNil() {
			return src
		}
		cpy := reflect.New(src.Type()).Elem()
		cpy.Set(cloneValue(src.Elem(), seen))
		return cpy

	case reflect.Map:
		if src.IsNil() {
			return src
		}
		if cpy, ok := seen[src.Pointer()]; ok && cpy.Type() == src.Type() {
			return cpy
		}
		cpy := reflect.MakeMapWithSize(src.Type(), src.Len())
		seen[src.Pointer()] = cpy
		iter := src.MapRange()
		for iter.Next() {
			cpy.SetMapIndex(cloneValue(iter.Key(), seen), cloneValue(iter.Value(), seen))
		}
		return cpy

	case reflect.Slice:
		if src.IsNil() {
			return src
		}
		// Sub-slices share a base pointer, so a cached copy only counts as
		// the same slice when the type and length match too.
		if cpy, ok := seen[src.Pointer()]; ok && cpy.Type() == src.Type() && cpy.Len() == src.Len() {
			return cpy
		}
		cpy := reflect.MakeSlice(src.Type(), src.Len(), src.Cap())
		if src.Len() > 0 {
			seen[src.Pointer()] = cpy
		}
		for i := 0; i < src.Len(); i++ {
			cpy.Index(i).Set(cloneValue(src.Index(i), seen))
		}
		return cpy

	case reflect.Array:
		cpy := reflect.New(src.Type()).Elem()
		for i := 0; i < src.Len(); i++ {
			cpy.Index(i).Set(cloneValue(src.Index(i), seen))
		}
		return cpy

	case reflect.Struct:
		cpy := reflect.New(src.Type()).Elem()
		// Shallow copy first so unexported fields keep their values.
		cpy.Set(src)
		for i := 0; i < src.NumField(); i++ {
			if cpy.Field(i).CanSet() {
				cpy.Field(i).Set(cloneValue(src.Field(i), seen))
			}
		}
		return cpy
	}

	return src
}
