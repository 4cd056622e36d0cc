package flash

import "sync"

// Op records one write against a Memory device.
type Op struct {
	Offset uint32
	Len    int
}

// Memory is an in-memory Storage. It starts fully erased, records every
// write, and can be told to fail writes for fault-injection tests.
type Memory struct {
	mu   sync.Mutex
	data []byte
	ops  []Op

	// FailWrite, when set, is consulted before every write; a non-nil
	// return aborts the write without touching the data.
	FailWrite func(offset uint32, n int) error
}

var _ Storage = (*Memory)(nil)

// NewMemory returns an erased device of the given capacity.
func NewMemory(capacity uint32) *Memory {
	data := make([]byte, capacity)
	for i := range data {
		data[i] = Erased
	}
	return &Memory{data: data}
}

func (m *Memory) Capacity() uint32 {
	return uint32(len(m.data))
}

func (m *Memory) Read(offset uint32, p []byte) error {
	if err := checkRange(m, offset, len(p)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(p, m.data[offset:])
	return nil
}

func (m *Memory) Write(offset uint32, p []byte) error {
	if err := checkRange(m, offset, len(p)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrite != nil {
		if err := m.FailWrite(offset, len(p)); err != nil {
			return err
		}
	}
	copy(m.data[offset:], p)
	m.ops = append(m.ops, Op{Offset: offset, Len: len(p)})
	return nil
}

// Writes returns a copy of the write log.
func (m *Memory) Writes() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Op(nil), m.ops...)
}

// ResetWrites clears the write log.
func (m *Memory) ResetWrites() {
	m.mu.Lock()
	m.ops = nil
	m.mu.Unlock()
}

// Bytes returns a copy of the whole device contents.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
