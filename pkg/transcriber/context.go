package transcriber

import "strings"

const (
	// ContextWordCount is the number of words to use as context from previous transcripts
	ContextWordCount = 30
)

// CreateContextPrompt creates a prompt from the previous transcript for whisper
// It takes the last N words (ContextWordCount) to stay within token limits
func CreateContextPrompt(previousTranscript string) string {
	if previousTranscript == "" {
		return ""
	}

	words := strings.Fields(previousTranscript)
	if len(words) > ContextWordCount {
		words = words[len(words)-ContextWordCount:]
	}
	return strings.Join(words, " ")
}

// languageHint maps "auto" to no hint.
func languageHint(lang string) string {
	if strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
