package core

// Sequence numbers live in a 31-bit cyclic space. Comparing them by signed
// modular distance keeps ordering correct across the wrap at 2^31.
const seqSpace = uint32(1) << 31

// SeqAhead reports whether a is cyclically ahead of b. The distance
// (a-b) mod 2^31 normalized into (-2^30, 2^30] must be strictly positive.
func SeqAhead(a, b uint32) bool {
	d := (a - b) & (seqSpace - 1)
	if d == 0 {
		return false
	}
	return d <= seqSpace/2
}

// NextSeq advances a sequence number with wraparound.
func NextSeq(s uint32) uint32 {
	return (s + 1) & (seqSpace - 1)
}
