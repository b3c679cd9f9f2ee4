package mapping

// Score computes a sequence-similarity ratio in [0,1] between two strings:
// twice the number of characters in common (per recursive longest-matching-
// block decomposition) divided by the total length. Equal strings score 1.
func Score(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := matchingChars([]byte(a), []byte(b))
	return 2 * float64(m) / float64(len(a)+len(b))
}

// matchingChars sums the lengths of the longest matching blocks, recursing
// into the unmatched regions on each side of every block.
func matchingChars(a, b []byte) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:ai], b[:bi])
	total += matchingChars(a[ai+size:], b[bi+size:])
	return total
}

func longestMatch(a, b []byte) (ai, bi, size int) {
	// j2len[j] is the length of the match ending at a[i], b[j].
	j2len := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		newJ2len := make([]int, len(b)+1)
		for j := 0; j < len(b); j++ {
			if a[i] != b[j] {
				continue
			}
			k := j2len[j] + 1
			newJ2len[j+1] = k
			if k > size {
				ai, bi, size = i-k+1, j-k+1, k
			}
		}
		j2len = newJ2len
	}
	return ai, bi, size
}
