package passage

import (
	"strconv"
	"strings"

	"github.com/FocuswithJustin/carry/core/bible"
)

// IsWholeChapter reports whether v covers every verse of its chapter.
func (v Verse) IsWholeChapter() bool {
	b, ok := bible.ByNumber(v.BookID)
	if !ok {
		return false
	}
	return v.VerseFrom == 1 && v.VerseTo == b.VerseCount(v.ChapterNumber)
}

// IsRange reports whether v spans more than one verse.
func (v Verse) IsRange() bool {
	return v.VerseTo > v.VerseFrom
}

// Len returns the number of verses in v.
func (v Verse) Len() int {
	return v.VerseTo - v.VerseFrom + 1
}

// String returns the reference in the form users type it:
// "John 3" for a whole chapter, "John 3:16" or "John 3:16-18".
// The result resolves back to v.
func (v Verse) String() string {
	var sb strings.Builder
	sb.WriteString(v.BookName)
	sb.WriteString(" ")
	sb.WriteString(strconv.Itoa(v.ChapterNumber))

	if v.IsWholeChapter() {
		return sb.String()
	}

	sb.WriteString(":")
	sb.WriteString(strconv.Itoa(v.VerseFrom))
	if v.IsRange() {
		sb.WriteString("-")
		sb.WriteString(strconv.Itoa(v.VerseTo))
	}
	return sb.String()
}

// OSIS returns the OSIS reference, e.g. "John.3.16" or "John.3.16-John.3.18".
func (v Verse) OSIS() string {
	b, ok := bible.ByNumber(v.BookID)
	if !ok {
		return ""
	}
	start := b.OSIS + "." + strconv.Itoa(v.ChapterNumber) + "." + strconv.Itoa(v.VerseFrom)
	if !v.IsRange() {
		return start
	}
	return start + "-" + b.OSIS + "." + strconv.Itoa(v.ChapterNumber) + "." + strconv.Itoa(v.VerseTo)
}

// Contains reports whether every verse of other lies inside v.
func (v Verse) Contains(other Verse) bool {
	if v.BookID != other.BookID || v.ChapterNumber != other.ChapterNumber {
		return false
	}
	return other.VerseFrom >= v.VerseFrom && other.VerseTo <= v.VerseTo
}
