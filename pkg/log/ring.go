package log

import "sync"

// Ring keeps the most recent bytes written to it. It backs the /logs page of
// the web app so recent activity is visible without shell access.
type Ring struct {
	mu   sync.Mutex
	size int
	data []byte
}

// NewRing returns a ring holding at most size bytes.
func NewRing(size int) *Ring {
	return &Ring{size: size, data: make([]byte, 0, size)}
}

func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n >= r.size {
		r.data = append(r.data[:0], p[n-r.size:]...)
		return n, nil
	}
	if over := len(r.data) + n - r.size; over > 0 {
		r.data = append(r.data[:0], r.data[over:]...)
	}
	r.data = append(r.data, p...)
	return n, nil
}

func (r *Ring) Sync() error { return nil }

// Bytes returns a copy of the buffered output, oldest first.
func (r *Ring) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}
