package generate

import "unicode"

// firstSentenceBoundary returns the index of the first sentence-terminal
// character ('.', '!', '?') that is either at the end of s or immediately
// followed by whitespace. Returns -1 if no boundary is found.
//
// Requiring trailing whitespace keeps decimals like "3.14" and dotted tokens
// such as URLs intact while the rest of the sentence is still streaming.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
