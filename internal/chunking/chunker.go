// Package chunking splits reply text into synthesis-sized pieces.
package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the chunk bound used when none is configured
const DefaultMaxLength = 800

var (
	sentenceBoundary = regexp.MustCompile(`\.\s+`)
	wordBoundary     = regexp.MustCompile(`\s+`)
)

// Chunk is one ordered fragment of the input text.
// Sep holds the whitespace that followed the chunk in the input, so
// concatenating Text+Sep over all chunks reproduces the input exactly.
type Chunk struct {
	Index int
	Text  string
	Sep   string
}

// Len returns the chunk length in runes
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Split breaks text into chunks of at most maxLength runes, preferring
// sentence boundaries ("." followed by whitespace) and falling back to word
// boundaries for sentences that are too long on their own. A word longer
// than maxLength is emitted whole. Blank text yields no chunks. Split is
// pure and deterministic.
func Split(text string, maxLength int) []Chunk {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxLength {
		return []Chunk{{Index: 0, Text: text}}
	}

	p := &packer{max: maxLength}
	for _, sentence := range segments(text, sentenceBoundary, 1) {
		if utf8.RuneCountInString(sentence.Text) <= maxLength {
			p.add(sentence)
			continue
		}

		words := segments(sentence.Text, wordBoundary, 0)
		if len(words) == 0 {
			continue
		}
		words[len(words)-1].Sep += sentence.Sep

		p.flush()
		for _, w := range words {
			p.add(w)
		}
		p.flush()
	}
	p.flush()

	for i := range p.chunks {
		p.chunks[i].Index = i
	}
	return p.chunks
}

// Join reassembles chunks into the original text
func Join(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
		b.WriteString(c.Sep)
	}
	return b.String()
}

type unit struct {
	Text string
	Sep  string
}

// segments cuts s at every match of re. The first keep bytes of each match
// stay with the preceding text, the rest becomes its separator. Leading
// separators are folded into the following unit.
func segments(s string, re *regexp.Regexp, keep int) []unit {
	var (
		out     []unit
		start   int
		pending string
	)
	for _, m := range re.FindAllStringIndex(s, -1) {
		end := m[0] + keep
		body := pending + s[start:end]
		if strings.TrimSpace(body) == "" {
			pending = body + s[end:m[1]]
			start = m[1]
			continue
		}
		out = append(out, unit{Text: body, Sep: s[end:m[1]]})
		pending = ""
		start = m[1]
	}

	tail := pending + s[start:]
	switch {
	case strings.TrimSpace(tail) != "":
		out = append(out, unit{Text: tail})
	case len(out) > 0:
		out[len(out)-1].Sep += tail
	case tail != "":
		out = append(out, unit{Text: tail})
	}
	return out
}

type packer struct {
	max    int
	chunks []Chunk

	cur    strings.Builder
	curLen int
	curSep string
	open   bool
}

func (p *packer) add(u unit) {
	n := utf8.RuneCountInString(u.Text)
	if p.open && p.curLen+utf8.RuneCountInString(p.curSep)+n <= p.max {
		p.cur.WriteString(p.curSep)
		p.cur.WriteString(u.Text)
		p.curLen += utf8.RuneCountInString(p.curSep) + n
		p.curSep = u.Sep
		return
	}

	p.flush()
	p.cur.WriteString(u.Text)
	p.curLen = n
	p.curSep = u.Sep
	p.open = true
}

func (p *packer) flush() {
	if !p.open {
		return
	}
	p.chunks = append(p.chunks, Chunk{Text: p.cur.String(), Sep: p.curSep})
	p.cur.Reset()
	p.curLen = 0
	p.curSep = ""
	p.open = false
}
