package budget

import "strings"

// codeMarkers are substrings that suggest the text is source code, which
// tokenizes denser than prose.
var codeMarkers = []string{"def ", "class ", "import ", "print("}

// Estimate roughly estimates the number of tokens in a text: about 4
// characters per token for English prose, 3 for code. This is a cheap
// approximation used only for budgeting decisions; it is monotonic in
// text length and must never be treated as exact tokenizer output.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	charsPerToken := 4
	for _, marker := range codeMarkers {
		if strings.Contains(text, marker) {
			charsPerToken = 3
			break
		}
	}
	return len(text) / charsPerToken
}
