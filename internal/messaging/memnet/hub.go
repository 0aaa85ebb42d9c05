package memnet

// hub fans values out to buffered subscriber channels. Callers hold the
// network lock. A full subscriber misses the value.
type hub[T any] struct {
	next int
	subs map[int]chan T
}

func (h *hub[T]) add() (int, <-chan T) {
	if h.subs == nil {
		h.subs = make(map[int]chan T)
	}
	id := h.next
	h.next++
	ch := make(chan T, streamBuffer)
	h.subs[id] = ch
	return id, ch
}

func (h *hub[T]) remove(id int) {
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub[T]) publish(v T) {
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}
