package knowledge

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default chunk bounds, in runes.
const (
	DefaultMinChunkSize = 500
	DefaultMaxChunkSize = 1500
)

var paragraphBreak = regexp.MustCompile(`\n{2,}`)

// Split cuts text into retrieval chunks of roughly minSize..maxSize runes.
// Sentences are packed greedily inside each paragraph; a sentence longer
// than maxSize is hard-cut. A short trailing chunk is merged into the one
// before it when the result still fits in maxSize. No chunk exceeds maxSize.
func Split(text string, minSize, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	if minSize <= 0 {
		minSize = DefaultMinChunkSize
	}
	if minSize > maxSize {
		minSize = maxSize
	}

	var chunks []string
	var buf string
	flush := func() {
		if b := strings.TrimSpace(buf); b != "" {
			chunks = append(chunks, b)
		}
		buf = ""
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, sentence := range splitSentences(para) {
			candidate := sentence
			if buf != "" {
				candidate = buf + " " + sentence
			}
			if utf8.RuneCountInString(candidate) <= maxSize {
				buf = candidate
			} else {
				flush()
				if utf8.RuneCountInString(sentence) <= maxSize {
					buf = sentence
				} else {
					parts := hardSplit(sentence, maxSize)
					chunks = append(chunks, parts[:len(parts)-1]...)
					buf = parts[len(parts)-1]
				}
			}
			if buf != "" && utf8.RuneCountInString(buf) >= minSize {
				flush()
			}
		}
	}
	flush()

	if n := len(chunks); n > 1 && utf8.RuneCountInString(chunks[n-1]) < minSize &&
		utf8.RuneCountInString(chunks[n-2])+1+utf8.RuneCountInString(chunks[n-1]) <= maxSize {
		chunks[n-2] = chunks[n-2] + " " + chunks[n-1]
		chunks = chunks[:n-1]
	}
	return chunks
}

// splitSentences breaks a paragraph after '.', '!' or '?' followed by
// whitespace.
func splitSentences(para string) []string {
	runes := []rune(para)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if r := runes[i]; r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(para)}
	}
	return out
}

func hardSplit(s string, width int) []string {
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += width {
		end := min(i+width, len(runes))
		if part := strings.TrimSpace(string(runes[i:end])); part != "" {
			out = append(out, part)
		}
	}
	return out
}
