// Package passage resolves free-text Bible references such as "John 3:16-18"
// into validated chapter and verse ranges.
//
// Resolution is a pure function over the static book table in core/bible and
// performs no I/O. A Resolver is safe for concurrent use; WithCache adds an
// LRU of previous results keyed by the raw input.
// Every failure is a *errors.PassageError whose message is meant to be shown
// to the user verbatim.
package passage

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/FocuswithJustin/carry/core/bible"
	"github.com/FocuswithJustin/carry/core/cache"
	"github.com/FocuswithJustin/carry/core/errors"
)

// Verse is a resolved passage reference.
type Verse struct {
	BookID        int    `json:"bookId"`
	BookAbbr      string `json:"bookAbbr"`
	BookName      string `json:"bookName"`
	ChapterNumber int    `json:"chapterNumber"`
	VerseFrom     int    `json:"verseFrom"`
	VerseTo       int    `json:"verseTo"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAliases lets the resolver fall back to USFM codes, OSIS ids and
// alternate names ("JHN 3:16", "Song of Solomon 2") when the canonical name
// does not match.
func WithAliases() Option {
	return func(r *Resolver) {
		r.aliases = true
	}
}

// WithCache memoises up to size results, including failures.
func WithCache(size int) Option {
	return func(r *Resolver) {
		if size > 0 {
			r.cache = cache.NewLRUCache[string, result](cache.Config{MaxSize: size})
		}
	}
}

type result struct {
	verse Verse
	err   error
}

// Resolver resolves passage references. The zero value matches canonical
// book names only.
type Resolver struct {
	aliases bool
	cache   cache.Cache[string, result]
}

// New creates a Resolver with the given options.
func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultResolver = New()

// Resolve resolves s with the default resolver (canonical names only).
func Resolve(s string) (Verse, error) {
	return defaultResolver.Resolve(s)
}

// Resolve parses s and validates it against the book table.
//
// Checks run in a fixed order and the first failure determines the error kind:
// unparseable input or unknown book, then missing or unknown chapter, then
// verse numbers outside [1, max] or an inverted range.
func (r *Resolver) Resolve(s string) (Verse, error) {
	if r.cache == nil {
		return r.resolve(s)
	}
	if res, ok := r.cache.Get(s); ok {
		return res.verse, res.err
	}
	v, err := r.resolve(s)
	r.cache.Put(s, result{verse: v, err: err})
	return v, err
}

// CacheStats reports the result cache counters. ok is false when the
// resolver was built without WithCache.
func (r *Resolver) CacheStats() (stats cache.Stats, ok bool) {
	if r.cache == nil {
		return cache.Stats{}, false
	}
	return r.cache.Stats(), true
}

func (r *Resolver) resolve(s string) (Verse, error) {
	parsed := parseReference(s)
	if parsed == nil {
		return Verse{}, errors.NewPassage(errors.KindBookNotFound, s)
	}

	name := titleCase(parsed.bookName())
	book, ok := bible.Lookup(name)
	if !ok && r.aliases {
		book, ok = bible.LookupAlias(name)
	}
	if !ok {
		return Verse{}, errors.NewPassage(errors.KindBookNotFound, s)
	}

	if parsed.Chapter == nil {
		return Verse{}, errors.NewPassage(errors.KindChapterNotFound, s)
	}
	chapter, err := strconv.Atoi(*parsed.Chapter)
	if err != nil {
		return Verse{}, errors.NewPassage(errors.KindChapterNotFound, s)
	}
	maxVerses := book.VerseCount(chapter)
	if maxVerses == 0 {
		return Verse{}, errors.NewPassage(errors.KindChapterNotFound, s)
	}

	v := Verse{
		BookID:        book.Number,
		BookAbbr:      book.Abbr,
		BookName:      book.Name,
		ChapterNumber: chapter,
		VerseFrom:     1,
		VerseTo:       maxVerses,
	}

	if parsed.Verses == nil || parsed.Verses.From == nil {
		return v, nil
	}

	from, err := strconv.Atoi(*parsed.Verses.From)
	if err != nil || from < 1 || from > maxVerses {
		return Verse{}, errors.NewPassage(errors.KindVerseNotFound, s)
	}
	v.VerseFrom = from
	v.VerseTo = from

	if parsed.Verses.To == nil {
		return v, nil
	}

	to, err := strconv.Atoi(*parsed.Verses.To)
	if err != nil || to > maxVerses || to < from {
		return Verse{}, errors.NewPassage(errors.KindVerseNotFound, s)
	}
	v.VerseTo = to
	return v, nil
}

// titleCase upper-cases the first letter of each word and lower-cases the
// rest, except "of" which is always lower case ("Song of Songs").
func titleCase(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		if strings.EqualFold(w, "of") {
			words[i] = "of"
			continue
		}
		first, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(first)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
