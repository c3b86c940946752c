// Package pin implements the 4-digit PIN challenge: digit entry with focus
// movement, the expiry countdown that also gates resends, and the
// verify/resend flow on top of the auth service.
package pin

import (
	"regexp"
	"strings"
)

// Length is the number of PIN digits.
const Length = 4

var (
	digitPattern = regexp.MustCompile(`^[0-9]?$`)
	pastePattern = regexp.MustCompile(`^[0-9]{4}$`)
)

// Entry models the row of single-digit fields and which one has focus.
// The zero value is an empty entry focused on the first field. Entry is not
// safe for concurrent use; Flow serializes access.
type Entry struct {
	digits [Length]string
	focus  int
}

// Input sets field i to value. Only "" or a single digit is accepted; anything
// else leaves the field untouched and returns false. Filling a field moves
// focus to the next one.
func (e *Entry) Input(i int, value string) bool {
	if i < 0 || i >= Length || !digitPattern.MatchString(value) {
		return false
	}
	e.digits[i] = value
	e.focus = i
	if value != "" && i < Length-1 {
		e.focus = i + 1
	}
	return true
}

// Backspace clears field i, or moves focus back when it is already empty.
func (e *Entry) Backspace(i int) {
	if i < 0 || i >= Length {
		return
	}
	if e.digits[i] != "" {
		e.digits[i] = ""
		e.focus = i
		return
	}
	if i > 0 {
		e.focus = i - 1
	}
}

// Left moves focus one field back from i.
func (e *Entry) Left(i int) {
	if i > 0 && i < Length {
		e.focus = i - 1
	}
}

// Right moves focus one field forward from i.
func (e *Entry) Right(i int) {
	if i >= 0 && i < Length-1 {
		e.focus = i + 1
	}
}

// Paste fills every field from a 4-digit string and focuses the last field.
// Other clipboard content is ignored.
func (e *Entry) Paste(text string) bool {
	text = strings.TrimSpace(text)
	if !pastePattern.MatchString(text) {
		return false
	}
	for i := 0; i < Length; i++ {
		e.digits[i] = text[i : i+1]
	}
	e.focus = Length - 1
	return true
}

// Digits returns a copy of the fields.
func (e *Entry) Digits() [Length]string { return e.digits }

// Focus is the index of the focused field.
func (e *Entry) Focus() int { return e.focus }

// Value joins the fields.
func (e *Entry) Value() string { return strings.Join(e.digits[:], "") }

// Complete reports whether every field holds a digit.
func (e *Entry) Complete() bool { return len(e.Value()) == Length }

// Clear empties all fields and focuses the first.
func (e *Entry) Clear() {
	e.digits = [Length]string{}
	e.focus = 0
}
