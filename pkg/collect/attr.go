// Attribute sets: string-keyed Value maps with merge-missing semantics
package collect

// Attributes maps attribute keys to values. Keys are unique; insertion
// order is irrelevant. An Attributes is owned by exactly one record and
// is cloned, never aliased, across merge boundaries.
type Attributes map[string]Value

// Set stores value under key, overwriting any previous value.
func (a Attributes) Set(key string, value Value) {
	a[key] = value
}

// MergeMissing copies every key from other that is absent from a.
// Existing keys are never overridden, so a child keeps any attribute it
// set explicitly when an ancestor's attributes merge onto it.
func (a Attributes) MergeMissing(other Attributes) {
	for k, v := range other {
		if _, ok := a[k]; !ok {
			a[k] = v
		}
	}
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
