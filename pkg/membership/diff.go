package membership

// Diff computes what has to change for local to match directory: add holds
// directory members missing locally, remove holds local members absent from
// the directory. No normalization is applied here.
func Diff(directory, local Set) (add, remove Set) {
	add = make(Set)
	remove = make(Set)

	for item := range directory {
		if !local.Has(item) {
			add.Add(item)
		}
	}
	for item := range local {
		if !directory.Has(item) {
			remove.Add(item)
		}
	}

	return add, remove
}

// FromValues builds a set from a map of local memberships keyed by user ID.
func FromValues[K comparable](m map[K]string) Set {
	s := make(Set, len(m))
	for _, v := range m {
		s.Add(v)
	}
	return s
}
