package core

import (
	"math/rand"
	"sync"

	"chunkup/pkg/transfer"
)

// recorder collects emitted messages
type recorder struct {
	mu       sync.Mutex
	messages []transfer.Message
}

func (r *recorder) Emit(m transfer.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recorder) all() []transfer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transfer.Message(nil), r.messages...)
}

// progress returns the progress messages of phase in emission order
func (r *recorder) progress(phase transfer.Phase) []transfer.Message {
	var out []transfer.Message
	for _, m := range r.all() {
		if m.Kind == transfer.KindProgress && m.Phase == phase {
			out = append(out, m)
		}
	}
	return out
}

// testData returns n bytes that compress but are not trivially repetitive
func testData(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	words := []string{"chunk ", "upload ", "frame ", "stream ", "merge ", "\n"}
	data := make([]byte, 0, n)
	for len(data) < n {
		if rng.Intn(8) == 0 {
			data = append(data, byte(rng.Intn(256)))
			continue
		}
		data = append(data, words[rng.Intn(len(words))]...)
	}
	return data[:n]
}

// truncatedBlob reports size bytes but can only supply the first limit
type truncatedBlob struct {
	*BytesBlob
	limit int64
}

func (b *truncatedBlob) ReadAt(p []byte, off int64) (int, error) {
	if off >= b.limit {
		return 0, nil
	}
	if max := b.limit - off; int64(len(p)) > max {
		p = p[:max]
	}
	return b.BytesBlob.ReadAt(p, off)
}
