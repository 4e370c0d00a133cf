// Package sanitizer cleans strings before they are persisted or compared.
//
// Stored error text goes through ErrorMessage, which strips control
// characters, folds the text onto one line and caps it in runes:
//
//	env.LastError = sanitizer.ErrorMessage(err, 4000)
//
// Structs can be cleaned in place using `sanitize` tags:
//
//	type Request struct {
//	    Recipient string `sanitize:"email"`
//	    Type      string `sanitize:"trim,snake,max:100"`
//	}
//
//	if err := sanitizer.SanitizeStruct(&req); err != nil { ... }
package sanitizer
