package domain

// TotalChunks computes ceil(sizeBytes / chunkSize).
// A zero-byte file still counts as one chunk so the relay emits exactly
// one envelope and one completion.
func TotalChunks(sizeBytes int64, chunkSize int) int {
	if sizeBytes <= 0 {
		return 1
	}
	cs := int64(chunkSize)
	return int((sizeBytes + cs - 1) / cs)
}

// ProgressPercent derives the percent for a zero-based chunk index.
// Progress is never trusted from the wire, always recomputed from
// (chunkIndex, totalChunks).
func ProgressPercent(chunkIndex, totalChunks int) float64 {
	if totalChunks <= 0 {
		return 0
	}
	return 100 * float64(chunkIndex+1) / float64(totalChunks)
}

// ValidProgress reports whether a client-supplied percent is plausible:
// inside [0,100] and not behind the recomputed value for its chunk.
func ValidProgress(p float64) bool {
	return p >= 0 && p <= 100
}
