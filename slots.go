package kvmux

// smallestMissingSlot returns the smallest positive integer absent from
// used, the set of header slot numbers currently in service (slot 0, the
// primary, is always among them).
//
// The scan marks "value v seen" by negating the entry at index v, so it
// runs in linear time with no allocation proportional to the largest slot
// number: after one pass the first index whose entry is still positive is
// the answer, and if every index got marked the answer is one past the end.
func smallestMissingSlot(used []int) int {
	a := make([]int, len(used))
	copy(a, used)
	n := len(a)

	// Park the zero at index 0 so a zero value elsewhere cannot shadow a
	// mark (zero cannot be negated).
	for i, v := range a {
		if v == 0 && i != 0 {
			a[i], a[0] = a[0], 0
			break
		}
	}

	for i := 0; i < n; i++ {
		v := a[i]
		if v < 0 {
			v = -v
		}
		if v >= 1 && v < n && a[v] > 0 {
			a[v] = -a[v]
		}
	}

	for i := 1; i < n; i++ {
		if a[i] > 0 {
			return i
		}
	}
	return n
}
