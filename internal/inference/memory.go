package inference

import "fmt"

// Memory tracks how many positions of the decoder's context are in use.
type Memory struct {
	dec      Decoder
	capacity int
	occupied int
}

func NewMemory(dec Decoder) *Memory {
	return &Memory{
		dec:      dec,
		capacity: dec.ContextSize(),
	}
}

func (m *Memory) Capacity() int { return m.capacity }

func (m *Memory) Occupied() int { return m.occupied }

// Remaining is the room left after reserving safetyMargin positions. It may
// be zero or negative.
func (m *Memory) Remaining(safetyMargin int) int {
	return m.capacity - safetyMargin - m.occupied
}

// Reset drops every accepted position, including the decoder's cached state.
func (m *Memory) Reset() {
	m.dec.ClearMemory()
	m.occupied = 0
}

func (m *Memory) commit(n int) error {
	if n < 0 || m.occupied+n > m.capacity {
		return newError(ErrContextExhausted, "commit",
			fmt.Errorf("%d positions requested with %d of %d occupied", n, m.occupied, m.capacity))
	}
	m.occupied += n
	return nil
}
