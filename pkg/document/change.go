package document

// IgnoreSet holds object keys that never count as a change, at any depth.
type IgnoreSet map[string]struct{}

// NewIgnoreSet builds an IgnoreSet from a list of keys.
func NewIgnoreSet(keys ...string) IgnoreSet {
	set := make(IgnoreSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Has reports whether key is ignored. A nil set ignores nothing.
func (s IgnoreSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the ignored keys in no particular order.
func (s IgnoreSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

// MateriallyChanged reports whether new differs from old once every key in
// ignored has been removed from both trees.
//
// Arrays are compared position by position, so a reordered array counts as a
// change even if it holds the same elements.
func MateriallyChanged(old, new Document, ignored IgnoreSet) bool {
	return !equal(old, new, ignored)
}

// Equal reports whether a and b are the same document modulo ignored keys.
func Equal(a, b Document, ignored IgnoreSet) bool {
	return equal(a, b, ignored)
}

func equal(a, b Document, ignored IgnoreSet) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return numbersEqual(a.num, b.num)
	case KindString:
		return a.str == b.str
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !equal(a.arr[i], b.arr[i], ignored) {
				return false
			}
		}
		return true
	case KindObject:
		return objectsEqual(a.obj, b.obj, ignored)
	default:
		return false
	}
}

func objectsEqual(a, b map[string]Document, ignored IgnoreSet) bool {
	var countA, countB int
	for k := range b {
		if !ignored.Has(k) {
			countB++
		}
	}

	for k, va := range a {
		if ignored.Has(k) {
			continue
		}
		countA++

		vb, ok := b[k]
		if !ok {
			return false
		}
		if !equal(va, vb, ignored) {
			return false
		}
	}

	return countA == countB
}

// Detector is a ChangeDetector bound to one ignore set.
type Detector struct {
	Ignored IgnoreSet
}

// NewDetector returns a Detector ignoring the given keys.
func NewDetector(ignored ...string) Detector {
	return Detector{Ignored: NewIgnoreSet(ignored...)}
}

// Changed reports whether new is materially different from old.
func (d Detector) Changed(old, new Document) bool {
	return MateriallyChanged(old, new, d.Ignored)
}

// Same is the negation of Changed, shaped for use as an equality predicate.
func (d Detector) Same(a, b Document) bool {
	return Equal(a, b, d.Ignored)
}
