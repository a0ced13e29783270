package locktree

import "bytes"

// Compare orders keys lexicographically, comparing bytes as unsigned values. When one key is a prefix of the
// other, the shorter key comes first. It returns -1 when a sorts before b, 1 when it sorts after, and 0 when the
// two keys are equal.
//
// Every key comparison in the package goes through Compare.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}
