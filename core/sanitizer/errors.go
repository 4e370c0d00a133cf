package sanitizer

// ErrorMessage renders err as a single printable line capped at maxLen runes.
// A nil error yields an empty string.
func ErrorMessage(err error, maxLen int) string {
	if err == nil {
		return ""
	}
	return Message(err.Error(), maxLen)
}

// Message applies the same rules as ErrorMessage to arbitrary text.
func Message(s string, maxLen int) string {
	return MaxLength(SingleLine(RemoveControlChars(s)), maxLen)
}
