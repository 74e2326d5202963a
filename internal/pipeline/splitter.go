package pipeline

import (
	"regexp"
	"strings"
)

// 切分单位。
const (
	SplitByWord     = "word"
	SplitBySentence = "sentence"
	SplitByPassage  = "passage"
	SplitByRune     = "rune"
)

var (
	sentenceEnd  = regexp.MustCompile(`([.!?。！？])\s+`)
	passageBreak = regexp.MustCompile(`\n\s*\n`)
)

// SplitText 以滑动窗口切分文本：窗口长度为 length 个单位，相邻窗口重叠 overlap 个单位。
func SplitText(text, by string, length, overlap int) []string {
	if length <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= length {
		overlap = 0
	}

	var units []string
	sep := " "
	switch by {
	case SplitBySentence:
		units = splitSentences(text)
	case SplitByPassage:
		units = splitPassages(text)
		sep = "\n\n"
	case SplitByRune:
		return splitRunes(text, length, overlap)
	default:
		units = strings.Fields(text)
	}
	return window(units, length, overlap, sep)
}

func window(units []string, length, overlap int, sep string) []string {
	if len(units) == 0 {
		return nil
	}
	step := length - overlap
	var chunks []string
	for i := 0; i < len(units); i += step {
		end := i + length
		if end > len(units) {
			end = len(units)
		}
		chunks = append(chunks, strings.Join(units[i:end], sep))
		if end == len(units) {
			break
		}
	}
	return chunks
}

func splitRunes(text string, length, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := length - overlap
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + length
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\n")
	var out []string
	for _, s := range strings.Split(marked, "\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitPassages 以空行分段；文本中没有空行时按单行分段。
func splitPassages(text string) []string {
	parts := passageBreak.Split(text, -1)
	if len(parts) == 1 {
		parts = strings.Split(text, "\n")
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
