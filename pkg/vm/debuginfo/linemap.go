package debuginfo

// LineMapping is the bidirectional mapping between source lines and
// instruction addresses built from the .debug_line section. A line maps to
// a single address; an address may be the target of several lines.
type LineMapping struct {
	lineToAddr  map[int]uint64
	addrToLines map[uint64][]int
}

// NewLineMapping builds a LineMapping from a line to address map.
func NewLineMapping(mapping map[int]uint64) *LineMapping {
	m := &LineMapping{
		lineToAddr:  make(map[int]uint64, len(mapping)),
		addrToLines: make(map[uint64][]int),
	}
	for line, addr := range mapping {
		m.lineToAddr[line] = addr
		m.addrToLines[addr] = append(m.addrToLines[addr], line)
	}
	return m
}

// Address returns the address that maps to the given source line.
func (m *LineMapping) Address(line int) (uint64, bool) {
	addr, ok := m.lineToAddr[line]
	return addr, ok
}

// Lines returns every source line that maps to the given address.
func (m *LineMapping) Lines(addr uint64) []int {
	return m.addrToLines[addr]
}
