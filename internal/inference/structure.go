package inference

import "strings"

// DefaultStopMarkers are the keys whose presence arms the structural stop.
var DefaultStopMarkers = []string{`"done"`, `"next_step"`}

// braceScanner tracks brace depth outside quoted strings. Feeding text in
// pieces gives the same state as feeding it at once.
type braceScanner struct {
	depth   int
	inStr   bool
	escaped bool
	started bool
}

func (b *braceScanner) Write(s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if b.escaped {
			b.escaped = false
			continue
		}
		switch c {
		case '\\':
			b.escaped = true
		case '"':
			b.inStr = !b.inStr
		case '{':
			if !b.inStr {
				b.depth++
				b.started = true
			}
		case '}':
			if !b.inStr {
				b.depth--
			}
		}
	}
}

// Complete reports whether at least one object was opened, every brace is
// closed, and the text does not end inside a string.
func (b *braceScanner) Complete() bool {
	return b.started && b.depth == 0 && !b.inStr
}

// BalancedBraces reports whether s holds a complete brace structure. Only
// '{' and '}' are tracked; brackets are ignored.
func BalancedBraces(s string) bool {
	var b braceScanner
	b.Write(s)
	return b.Complete()
}

// StructureDetector decides when accumulated output is a finished structured
// reply: a marker substring is present and the braces are balanced.
type StructureDetector struct {
	markers []string
	scan    braceScanner
	out     strings.Builder
	marked  bool
}

func NewStructureDetector(markers []string) *StructureDetector {
	if markers == nil {
		markers = DefaultStopMarkers
	}
	return &StructureDetector{markers: markers}
}

// Push appends a fragment and reports whether generation should stop.
func (d *StructureDetector) Push(fragment string) bool {
	d.out.WriteString(fragment)
	d.scan.Write(fragment)
	if !d.marked {
		text := d.out.String()
		for _, m := range d.markers {
			if m != "" && strings.Contains(text, m) {
				d.marked = true
				break
			}
		}
	}
	return d.marked && d.scan.Complete()
}
