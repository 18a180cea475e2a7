package service

import "strings"

// Chunking defaults: chunk size in characters with overlap carried
// between consecutive chunks.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// breakPoints are candidate split boundaries in priority order: prefer
// sentence ends, then paragraph and line breaks, then clause breaks.
var breakPoints = []string{". ", ".\n", "\n\n", "\n", "; ", ", "}

// splitIntoChunks splits text into chunks of roughly size characters,
// breaking at the highest-priority boundary in the back half of each
// window and overlapping consecutive chunks.
func splitIntoChunks(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := findBreak(text[start:end])
		if cut <= 0 {
			cut = size
		}
		chunk := strings.TrimSpace(text[start : start+cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// findBreak returns the byte offset just past the best break point in
// the window, searching only its back half so chunks stay near the
// target size. Returns 0 if no boundary was found.
func findBreak(window string) int {
	half := len(window) / 2
	for _, bp := range breakPoints {
		idx := strings.LastIndex(window, bp)
		if idx >= half {
			return idx + len(bp)
		}
	}
	return 0
}
