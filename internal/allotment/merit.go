package allotment

import (
	"cmp"
	"slices"
)

// compareMerit orders higher CGPA first. Students without a CGPA come after
// everyone who has one; roll number breaks every remaining tie.
func compareMerit(a, b *Candidate) int {
	switch {
	case a.CGPA != nil && b.CGPA == nil:
		return -1
	case a.CGPA == nil && b.CGPA != nil:
		return 1
	case a.CGPA != nil && b.CGPA != nil && *a.CGPA != *b.CGPA:
		return cmp.Compare(*b.CGPA, *a.CGPA)
	}
	return cmp.Compare(a.RollNo, b.RollNo)
}

func sortByMerit(candidates []Candidate) {
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return compareMerit(&a, &b)
	})
}
