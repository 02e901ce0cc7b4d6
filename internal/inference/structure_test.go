package inference

import "testing"

func TestBalancedBracesPrefixes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
	}{
		{name: "simple object", in: `{"done": true}`},
		{name: "brace inside string", in: `{"text": "a } b"}`},
		{name: "escaped quote", in: `{"q": "say \"}\" now"}`},
		{name: "nested", in: `{"a": {"b": {}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for i := 1; i <= len(tc.in); i++ {
				got := BalancedBraces(tc.in[:i])
				want := i == len(tc.in)
				if got != want {
					t.Fatalf("prefix %q: got %v want %v", tc.in[:i], got, want)
				}
			}
		})
	}
}

func TestBalancedBracesRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "no braces", in: "plain text"},
		{name: "array root", in: `[1, 2, 3]`},
		{name: "unterminated string", in: `{"a": 1} "tail`},
		{name: "extra close", in: `{"a": 1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if BalancedBraces(tc.in) {
				t.Fatalf("expected %q to be incomplete", tc.in)
			}
		})
	}
}

func TestStructureDetectorIncremental(t *testing.T) {
	t.Parallel()

	const out = `{"done": true}`
	d := NewStructureDetector(nil)
	for i := 0; i < len(out); i++ {
		stop := d.Push(out[i : i+1])
		if stop != (i == len(out)-1) {
			t.Fatalf("after %q: stop=%v", out[:i+1], stop)
		}
	}
}

func TestStructureDetectorNeedsMarker(t *testing.T) {
	t.Parallel()

	d := NewStructureDetector(nil)
	if d.Push(`{"text": "a } b"}`) {
		t.Fatalf("balanced output without a marker must not stop")
	}

	d = NewStructureDetector(nil)
	if d.Push(`{"next_step": "a } b"`) {
		t.Fatalf("marker with an open object must not stop")
	}
	if !d.Push(`}`) {
		t.Fatalf("expected stop once the object closes")
	}

	d = NewStructureDetector([]string{"END"})
	if !d.Push(`{"x": 1} END`) {
		t.Fatalf("expected custom marker to arm the stop")
	}
}
