// Package chunker implements the recursive character splitter used by
// the ingestion pipeline: text is divided at the highest-priority
// boundary available (a heading after a blank line, a blank line, a
// newline, a sentence end, a space, or finally a bare character cut),
// then the resulting fragments are greedily packed into chunks of a
// target size with a trailing overlap carried into the next chunk. A
// heading section longer than the target size always starts a new
// chunk, and no overlap is carried across that break.
package chunker

import (
	"regexp"
	"strings"
)

// Config controls the chunking behavior.
type Config struct {
	// Size is the target chunk length in characters.
	Size int
	// Overlap is the number of trailing characters from one chunk
	// carried into the start of the next.
	Overlap int
}

// Chunker splits normalized document text into ordered chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration. A zero or
// negative Size defaults to 500 characters; a negative Overlap, or one
// not smaller than Size, defaults to 50. A zero Overlap disables
// overlap.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = 500
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = 50
	}
	return &Chunker{cfg: cfg}
}

// Split breaks text into ordered chunks of about cfg.Size characters.
// A chunk can exceed Size by up to Overlap characters, since the
// overlap carried from the previous chunk is prepended to the next
// fragment; a run with no soft boundary is cut at fixed character
// offsets. Empty or whitespace-only input yields a nil slice.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var chunks, pending []string
	for _, section := range splitAtHeading(text) {
		if len(section) <= c.cfg.Size {
			pending = append(pending, section)
			continue
		}
		// An oversize section starts its own chunk, so its heading opens
		// a chunk instead of trailing text packed before it.
		chunks = append(chunks, mergeWithOverlap(pending, c.cfg.Size, c.cfg.Overlap)...)
		pending = nil
		leaves := splitRecursive(section, c.cfg.Size, 1)
		chunks = append(chunks, mergeWithOverlap(leaves, c.cfg.Size, c.cfg.Overlap)...)
	}
	return append(chunks, mergeWithOverlap(pending, c.cfg.Size, c.cfg.Overlap)...)
}

// boundary functions are tried in priority order; each returns the
// pieces of text it split on, in original order, such that
// strings.Join(pieces, "") == text. A function that finds no boundary
// returns a single-element slice containing the whole input — the
// caller then falls through to the next priority level.
var boundaryFuncs = []func(string) []string{
	splitAtHeading,
	splitAtDoubleNewline,
	splitAtSingleNewline,
	splitAtSentenceEnd,
	splitAtSpace,
}

// splitRecursive applies boundary levels in priority order. Any
// fragment still longer than size after a level fires is recursively
// split at the next level down. Once every soft boundary is
// exhausted, the fragment is cut at fixed character offsets — the
// last-resort "character" boundary — which always terminates.
func splitRecursive(text string, size int, level int) []string {
	if level >= len(boundaryFuncs) {
		return hardChunk(text, size)
	}
	pieces := boundaryFuncs[level](text)
	if len(pieces) <= 1 {
		return splitRecursive(text, size, level+1)
	}
	var out []string
	for _, p := range pieces {
		if len(p) > size {
			out = append(out, splitRecursive(p, size, level+1)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

var headingBoundary = regexp.MustCompile(`\n\n#{1,6}[ \t]`)

// splitAtHeading splits before a markdown heading that follows a
// blank line, keeping the blank line with the preceding fragment and
// the heading marker with the following one.
func splitAtHeading(text string) []string {
	locs := headingBoundary.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var pieces []string
	start := 0
	for _, loc := range locs {
		cut := loc[0] + 2 // keep the "\n\n", hand the heading marker to the next piece
		if cut <= start {
			continue
		}
		pieces = append(pieces, text[start:cut])
		start = cut
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

func splitAtDoubleNewline(text string) []string { return splitKeepingDelimiter(text, "\n\n") }
func splitAtSingleNewline(text string) []string { return splitKeepingDelimiter(text, "\n") }
func splitAtSpace(text string) []string         { return splitKeepingDelimiter(text, " ") }

var sentenceEndBoundary = regexp.MustCompile(`[.!?][ \n]`)

// splitAtSentenceEnd splits after sentence-ending punctuation followed
// by whitespace, keeping the punctuation and whitespace with the
// preceding fragment.
func splitAtSentenceEnd(text string) []string {
	locs := sentenceEndBoundary.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var pieces []string
	start := 0
	for _, loc := range locs {
		pieces = append(pieces, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// hardChunk cuts text into fixed-size rune runs, the last-resort
// boundary used once every soft boundary has failed to shrink a
// fragment under size (e.g. one giant unbroken token).
func hardChunk(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var pieces []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[i:end]))
	}
	return pieces
}

// splitKeepingDelimiter splits text on every occurrence of sep,
// attaching each delimiter to the end of the fragment preceding it so
// concatenation reproduces the original text exactly.
func splitKeepingDelimiter(text, sep string) []string {
	if sep == "" || !strings.Contains(text, sep) {
		return []string{text}
	}
	var pieces []string
	start := 0
	for {
		idx := strings.Index(text[start:], sep)
		if idx < 0 {
			break
		}
		end := start + idx + len(sep)
		pieces = append(pieces, text[start:end])
		start = end
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// mergeWithOverlap greedily packs ordered fragments into chunks no
// longer than size, seeding each new chunk with the trailing overlap
// characters of the one before it.
func mergeWithOverlap(fragments []string, size, overlap int) []string {
	var chunks []string
	var cur strings.Builder

	for _, frag := range fragments {
		if cur.Len() > 0 && cur.Len()+len(frag) > size {
			chunks = append(chunks, cur.String())
			tail := overlapTail(cur.String(), overlap)
			cur.Reset()
			cur.WriteString(tail)
		}
		cur.WriteString(frag)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// overlapTail returns the trailing n characters of s, or all of s if
// it is shorter than n.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
