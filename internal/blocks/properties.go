package blocks

// Properties is the property set of one block instance: property name to
// value, where values are strings, numbers, booleans, nested mappings
// (structured properties such as margin), or arrays.
type Properties map[string]any

// Resolve merges the three property layers of one block instance into a final
// set. Precedence, lowest to highest: type defaults, caller overrides,
// computed fields. Computed fields always win; a caller cannot override a
// value the synthesis step forces.
//
// Mapping-valued properties merge per key one level deep, so an override of
// margin.top does not clobber a default margin.bottom. Every other value type
// replaces wholesale. Resolve is pure: no input is mutated, the result is
// freshly allocated, and resolving the same inputs twice yields equal results.
func Resolve(defaults, overrides, computed Properties) Properties {
	out := make(Properties, len(defaults)+len(overrides)+len(computed))
	for k, v := range defaults {
		out[k] = copyValue(v)
	}
	mergeLayer(out, overrides)
	mergeLayer(out, computed)
	return out
}

// mergeLayer applies one precedence layer onto dst. A mapping value landing on
// an existing mapping merges per key; anything else replaces.
func mergeLayer(dst Properties, layer Properties) {
	for k, v := range layer {
		existing, present := dst[k]
		if present {
			if em, ok := asMap(existing); ok {
				if vm, ok := asMap(v); ok {
					merged := make(map[string]any, len(em)+len(vm))
					for mk, mv := range em {
						merged[mk] = mv
					}
					for mk, mv := range vm {
						merged[mk] = copyValue(mv)
					}
					dst[k] = merged
					continue
				}
			}
		}
		dst[k] = copyValue(v)
	}
}

// asMap normalizes the two mapping representations that reach the resolver:
// decoded input (map[string]any) and registry defaults (Properties).
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Properties:
		return m, true
	default:
		return nil, false
	}
}

// copyValue detaches containers from their source layer so the resolved set
// never aliases caller-owned maps or slices. Copies run one level deep, the
// same depth the merge operates at.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = val
		}
		return m
	case Properties:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = val
		}
		return m
	case []any:
		s := make([]any, len(t))
		copy(s, t)
		return s
	case []string:
		s := make([]string, len(t))
		copy(s, t)
		return s
	default:
		return v
	}
}

// String returns the named property as a string.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Map returns the named property as a mapping.
func (p Properties) Map(key string) (map[string]any, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	return asMap(v)
}
