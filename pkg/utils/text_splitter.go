package utils

import "unicode"

// SplitText cuts text into windows of at most chunkSize runes, consecutive windows sharing
// overlap runes. A cut is moved back to the nearest whitespace in the last fifth of the window
// so words stay whole; a window without whitespace is cut hard.
func SplitText(text string, chunkSize int, overlap int) []string {
	runes := []rune(text)
	if chunkSize <= 0 || len(runes) <= chunkSize {
		if len(trimmed(runes)) == 0 {
			return nil
		}
		return []string{string(trimmed(runes))}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes, start+chunkSize*4/5, end); cut > start {
			end = cut
		}

		if chunk := trimmed(runes[start:end]); len(chunk) > 0 {
			chunks = append(chunks, string(chunk))
		}
		if end == len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func lastSpace(runes []rune, from, to int) int {
	for i := to; i > from; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return -1
}

func trimmed(runes []rune) []rune {
	start, end := 0, len(runes)
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return runes[start:end]
}
