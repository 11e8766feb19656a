package knowledge

import "strings"

// splitChunks breaks a document into retrieval chunks. Paragraphs (blank
// line separated) are packed greedily up to maxSize bytes; a single
// paragraph larger than maxSize is hard-split at the limit.
func splitChunks(text string, maxSize int) []string {
	var (
		chunks  []string
		current strings.Builder
	)

	flush := func() {
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		for len(paragraph) > maxSize {
			flush()
			cut := maxSize
			// Prefer breaking at a space near the limit.
			if i := strings.LastIndexByte(paragraph[:maxSize], ' '); i > maxSize/2 {
				cut = i
			}
			chunks = append(chunks, strings.TrimSpace(paragraph[:cut]))
			paragraph = strings.TrimSpace(paragraph[cut:])
		}

		if current.Len() > 0 && current.Len()+len(paragraph)+2 > maxSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
	}
	flush()
	return chunks
}
