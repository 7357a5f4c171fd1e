package util

func Back[T any](data []T) T {
	l := len(data)
	if l == 0 {
		panic("empty slice")
	}
	return data[l-1]
}

func Pop[T any](a []T) []T {
	if len(a) > 0 {
		return a[:len(a)-1]
	}
	return a
}

func CopyTo[T any](src []T) []T {
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

// SplitEvenly splits n items into parts buckets. The first n%parts
// buckets get one more item. Returns the [begin,end) of each bucket.
func SplitEvenly(n, parts int) []Pair[int, int] {
	if parts <= 0 {
		return nil
	}
	ret := make([]Pair[int, int], 0, parts)
	each := n / parts
	rest := n % parts
	begin := 0
	for i := 0; i < parts; i++ {
		cnt := each
		if i < rest {
			cnt++
		}
		ret = append(ret, Pair[int, int]{First: begin, Second: begin + cnt})
		begin += cnt
	}
	return ret
}
