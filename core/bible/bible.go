// Package bible holds the static book table used to validate passage references.
//
// The table covers the 66 books of the protestant canon in canonical order.
// It is built once at package initialization and never mutated, so every
// lookup is safe for concurrent use without locking.
package bible

import (
	"strings"
)

// Testament identifies which half of the canon a book belongs to.
type Testament string

// Testament values.
const (
	OldTestament Testament = "OT"
	NewTestament Testament = "NT"
)

// firstNTBook is the book number of Matthew.
const firstNTBook = 40

// Book is one entry of the book table.
type Book struct {
	// Number is the canonical book id (Genesis = 1, Revelation = 66).
	Number int `json:"id"`

	// Name is the canonical English name used as the lookup key.
	Name string `json:"name"`

	// Abbr is the three-character USFM code (e.g. "GEN", "1CO").
	Abbr string `json:"abbr"`

	// OSIS is the OSIS book id (e.g. "Gen", "1Cor").
	OSIS string `json:"osis"`

	// AltNames are alternate English names accepted by alias lookups.
	AltNames []string `json:"alt_names,omitempty"`

	// Chapters holds the maximum verse count of each chapter; index 0 is chapter 1.
	Chapters []int `json:"chapters"`
}

// ChapterCount returns the number of chapters in the book.
func (b *Book) ChapterCount() int {
	return len(b.Chapters)
}

// VerseCount returns the number of verses in chapter, or 0 if the chapter does not exist.
func (b *Book) VerseCount(chapter int) int {
	if chapter < 1 || chapter > len(b.Chapters) {
		return 0
	}
	return b.Chapters[chapter-1]
}

// TotalVerses returns the verse count of the whole book.
func (b *Book) TotalVerses() int {
	total := 0
	for _, n := range b.Chapters {
		total += n
	}
	return total
}

// Testament reports whether the book is in the Old or New Testament.
func (b *Book) Testament() Testament {
	if b.Number >= firstNTBook {
		return NewTestament
	}
	return OldTestament
}

var (
	byName  map[string]*Book
	byAlias map[string]*Book
)

func init() {
	byName = make(map[string]*Book, len(books))
	byAlias = make(map[string]*Book, len(books)*4)
	for i := range books {
		b := &books[i]
		byName[b.Name] = b
		for _, key := range append([]string{b.Name, b.Abbr, b.OSIS}, b.AltNames...) {
			byAlias[strings.ToLower(key)] = b
		}
	}
}

// Lookup finds a book by its exact canonical name ("1 Corinthians", "Song of Songs").
func Lookup(name string) (*Book, bool) {
	b, ok := byName[name]
	return b, ok
}

// LookupAlias finds a book by canonical name, USFM code, OSIS id or alternate
// name, ignoring case. Inner whitespace is collapsed before matching.
func LookupAlias(name string) (*Book, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if b, ok := byAlias[key]; ok {
		return b, true
	}
	// USFM and OSIS codes for numbered books are written without a space ("1CO", "1Cor").
	b, ok := byAlias[strings.ReplaceAll(key, " ", "")]
	return b, ok
}

// ByNumber returns the book with the given canonical id.
func ByNumber(n int) (*Book, bool) {
	if n < 1 || n > len(books) {
		return nil, false
	}
	return &books[n-1], true
}

// All returns every book in canonical order.
// The returned books share storage with the table and must not be modified.
func All() []Book {
	return books[:len(books):len(books)]
}

// ByTestament returns the books of one testament in canonical order.
func ByTestament(t Testament) []Book {
	if t == NewTestament {
		return books[firstNTBook-1 : len(books) : len(books)]
	}
	return books[:firstNTBook-1 : firstNTBook-1]
}
