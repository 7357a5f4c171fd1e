package orderby

import "math/bits"

const (
	insertion_sort_threshold     = 24
	ninther_threshold            = 128
	partial_insertion_sort_limit = 8
)

// pdqSorter sorts keys and moves perm in lock step with it.
type pdqSorter[K any] struct {
	keys []K
	perm []uint64
	less func(a, b K) bool
}

// pdqSortWithPerm sorts keys by less. perm[i] follows keys[i].
// Not stable.
func pdqSortWithPerm[K any](keys []K, perm []uint64, less func(a, b K) bool) {
	if len(keys) != len(perm) {
		panic("pdq: keys and permutation differ in length")
	}
	if len(keys) < 2 {
		return
	}
	s := &pdqSorter[K]{keys: keys, perm: perm, less: less}
	s.loop(0, len(keys), bits.Len(uint(len(keys))), true)
}

func (s *pdqSorter[K]) swap(i, j int) {
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
	s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
}

func (s *pdqSorter[K]) move(dst, src int) {
	s.keys[dst] = s.keys[src]
	s.perm[dst] = s.perm[src]
}

func (s *pdqSorter[K]) loop(begin, end int, badAllowed int, leftMost bool) {
	for {
		size := end - begin
		if size < insertion_sort_threshold {
			if leftMost {
				s.insertSort(begin, end)
			} else {
				s.unguardedInsertSort(begin, end)
			}
			return
		}

		//pivot : median of 3
		//pseudomedian of 9
		s2 := size / 2
		if size > ninther_threshold {
			s.sort3(begin, begin+s2, end-1)
			s.sort3(begin+1, begin+s2-1, end-2)
			s.sort3(begin+2, begin+s2+1, end-3)
			s.sort3(begin+s2-1, begin+s2, begin+s2+1)
			s.swap(begin, begin+s2)
		} else {
			s.sort3(begin+s2, begin, end-1)
		}

		// equal to the element before the range, which is a lower bound
		if !leftMost && !s.less(s.keys[begin-1], s.keys[begin]) {
			begin = s.partitionLeft(begin, end) + 1
			continue
		}

		pivotPos, alreadyPartitioned := s.partitionRight(begin, end)
		lSize := pivotPos - begin
		rSize := end - (pivotPos + 1)
		if lSize < size/8 || rSize < size/8 {
			badAllowed--
			if badAllowed <= 0 {
				s.heapSort(begin, end)
				return
			}
			if lSize >= insertion_sort_threshold {
				s.swap(begin, begin+lSize/4)
				s.swap(pivotPos-1, pivotPos-lSize/4)
				if lSize > ninther_threshold {
					s.swap(begin+1, begin+(lSize/4+1))
					s.swap(begin+2, begin+(lSize/4+2))
					s.swap(pivotPos-2, pivotPos-(lSize/4+1))
					s.swap(pivotPos-3, pivotPos-(lSize/4+2))
				}
			}
			if rSize >= insertion_sort_threshold {
				s.swap(pivotPos+1, pivotPos+(1+rSize/4))
				s.swap(end-1, end-rSize/4)
				if rSize > ninther_threshold {
					s.swap(pivotPos+2, pivotPos+(2+rSize/4))
					s.swap(pivotPos+3, pivotPos+(3+rSize/4))
					s.swap(end-2, end-(1+rSize/4))
					s.swap(end-3, end-(2+rSize/4))
				}
			}
		} else if alreadyPartitioned &&
			s.partialInsertionSort(begin, pivotPos) &&
			s.partialInsertionSort(pivotPos+1, end) {
			return
		}

		//sort left part
		s.loop(begin, pivotPos, badAllowed, leftMost)
		begin = pivotPos + 1
		leftMost = false
	}
}

// partitionRight splits [begin,end) around keys[begin]. Elements equal
// to the pivot go to the right part.
func (s *pdqSorter[K]) partitionRight(begin, end int) (int, bool) {
	pk, pp := s.keys[begin], s.perm[begin]
	first, last := begin, end

	//find the first one *first >= pivot
	for {
		first++
		if !s.less(s.keys[first], pk) {
			break
		}
	}

	//find the last one *last < pivot
	if first-1 == begin {
		for first < last {
			last--
			if s.less(s.keys[last], pk) {
				break
			}
		}
	} else {
		for {
			last--
			if s.less(s.keys[last], pk) {
				break
			}
		}
	}

	alreadyPartitioned := first >= last

	for first < last {
		s.swap(first, last)
		for {
			first++
			if !s.less(s.keys[first], pk) {
				break
			}
		}
		for {
			last--
			if s.less(s.keys[last], pk) {
				break
			}
		}
	}

	pivotPos := first - 1
	s.move(begin, pivotPos)
	s.keys[pivotPos], s.perm[pivotPos] = pk, pp
	return pivotPos, alreadyPartitioned
}

// partitionLeft puts elements equal to the pivot in the left part.
func (s *pdqSorter[K]) partitionLeft(begin, end int) int {
	pk, pp := s.keys[begin], s.perm[begin]
	first, last := begin, end
	for {
		last--
		if !s.less(pk, s.keys[last]) {
			break
		}
	}
	if last+1 == end {
		for first < last {
			first++
			if s.less(pk, s.keys[first]) {
				break
			}
		}
	} else {
		for {
			first++
			if s.less(pk, s.keys[first]) {
				break
			}
		}
	}

	for first < last {
		s.swap(first, last)
		for {
			last--
			if !s.less(pk, s.keys[last]) {
				break
			}
		}
		for {
			first++
			if s.less(pk, s.keys[first]) {
				break
			}
		}
	}

	s.move(begin, last)
	s.keys[last], s.perm[last] = pk, pp
	return last
}

// partialInsertionSort gives up after moving too many elements.
func (s *pdqSorter[K]) partialInsertionSort(begin, end int) bool {
	if begin == end {
		return true
	}
	limit := 0
	for cur := begin + 1; cur < end; cur++ {
		sift := cur
		if s.less(s.keys[sift], s.keys[sift-1]) {
			tk, tp := s.keys[sift], s.perm[sift]
			for {
				s.move(sift, sift-1)
				sift--
				if sift == begin || !s.less(tk, s.keys[sift-1]) {
					break
				}
			}
			s.keys[sift], s.perm[sift] = tk, tp
			limit += cur - sift
		}
		if limit > partial_insertion_sort_limit {
			return false
		}
	}
	return true
}

// insert sort [begin,end)
func (s *pdqSorter[K]) insertSort(begin, end int) {
	for cur := begin + 1; cur < end; cur++ {
		sift := cur
		if s.less(s.keys[sift], s.keys[sift-1]) {
			tk, tp := s.keys[sift], s.perm[sift]
			for {
				s.move(sift, sift-1)
				sift--
				if sift == begin || !s.less(tk, s.keys[sift-1]) {
					break
				}
			}
			s.keys[sift], s.perm[sift] = tk, tp
		}
	}
}

// insert sort [begin,end)
// A[begin - 1] <= anyone in [begin,end)
func (s *pdqSorter[K]) unguardedInsertSort(begin, end int) {
	for cur := begin + 1; cur < end; cur++ {
		sift := cur
		if s.less(s.keys[sift], s.keys[sift-1]) {
			tk, tp := s.keys[sift], s.perm[sift]
			for {
				s.move(sift, sift-1)
				sift--
				if !s.less(tk, s.keys[sift-1]) {
					break
				}
			}
			s.keys[sift], s.perm[sift] = tk, tp
		}
	}
}

// sort A[a],A[b],A[c]
func (s *pdqSorter[K]) sort3(a, b, c int) {
	s.sort2(a, b)
	s.sort2(b, c)
	s.sort2(a, b)
}

func (s *pdqSorter[K]) sort2(a, b int) {
	if s.less(s.keys[b], s.keys[a]) {
		s.swap(a, b)
	}
}

func (s *pdqSorter[K]) heapSort(begin, end int) {
	n := end - begin
	for i := n/2 - 1; i >= 0; i-- {
		s.siftDown(begin, i, n)
	}
	for i := n - 1; i > 0; i-- {
		s.swap(begin, begin+i)
		s.siftDown(begin, 0, i)
	}
}

func (s *pdqSorter[K]) siftDown(base, root, n int) {
	for {
		child := 2*root + 1
		if child >= n {
			return
		}
		if child+1 < n && s.less(s.keys[base+child], s.keys[base+child+1]) {
			child++
		}
		if !s.less(s.keys[base+root], s.keys[base+child]) {
			return
		}
		s.swap(base+root, base+child)
		root = child
	}
}
