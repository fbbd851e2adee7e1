package util

// --------------------------------------------------------------------------
// Chunk helpers
// --------------------------------------------------------------------------

// SliceBufferToChunks splits buffer into consecutive chunks of at most size
// bytes. The chunks share memory with buffer. A non-positive size yields the
// whole buffer as a single chunk.
func SliceBufferToChunks(buffer []byte, size int) [][]byte {
	if len(buffer) == 0 {
		return nil
	}
	if size <= 0 || size >= len(buffer) {
		return [][]byte{buffer}
	}

	chunks := make([][]byte, 0, (len(buffer)+size-1)/size)
	for start := 0; start < len(buffer); start += size {
		end := min(start+size, len(buffer))
		chunks = append(chunks, buffer[start:end:end])
	}
	return chunks
}

// ChunksTotalByteLength returns the summed length of all chunks
func ChunksTotalByteLength(chunks [][]byte) int {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	return total
}

// CloneChunks deep copies every chunk, so the result can be handed off
// while the originals stay usable
func CloneChunks(chunks [][]byte) [][]byte {
	if chunks == nil {
		return nil
	}
	clones := make([][]byte, len(chunks))
	for i, c := range chunks {
		clones[i] = append([]byte(nil), c...)
	}
	return clones
}

// CopyChunksIntoBuffer concatenates the chunks into one new buffer
func CopyChunksIntoBuffer(chunks [][]byte) []byte {
	buffer := make([]byte, 0, ChunksTotalByteLength(chunks))
	for _, c := range chunks {
		buffer = append(buffer, c...)
	}
	return buffer
}
