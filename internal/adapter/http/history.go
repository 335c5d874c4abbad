package http

import (
	"sync"
	"time"
)

// HistoryEntry records one successfully processed request.
type HistoryEntry struct {
	Dirname     string    `json:"dirname"`
	Date        time.Time `json:"date"`
	Lake        string    `json:"lake"`
	ProcessedAt time.Time `json:"processed_at"`
	FilePath    string    `json:"file_path"`
}

// History is a bounded, thread-safe LRU of processed requests keyed by
// dirname.
type History struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	value HistoryEntry
	prev  *entry
	next  *entry
}

func NewHistory(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &History{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// Get returns the entry for dirname and marks it recently used.
func (h *History) Get(dirname string) (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[dirname]
	if !ok {
		return HistoryEntry{}, false
	}
	h.moveToFront(e)
	return e.value, true
}

// Add inserts or refreshes an entry, evicting the least recently used one
// when full.
func (h *History) Add(v HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.entries[v.Dirname]; ok {
		e.value = v
		h.moveToFront(e)
		return
	}

	e := &entry{value: v}
	h.entries[v.Dirname] = e
	h.addToFront(e)

	if len(h.entries) > h.maxEntries {
		h.evictTail()
	}
}

// Remove drops dirname if present.
func (h *History) Remove(dirname string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.entries[dirname]; ok {
		delete(h.entries, dirname)
		h.remove(e)
	}
}

// Recent returns up to n entries, most recently used first.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, 0, min(n, len(h.entries)))
	for e := h.head; e != nil && len(out) < n; e = e.next {
		out = append(out, e.value)
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear empties the history and returns how many entries it held.
func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.entries)
	h.entries = make(map[string]*entry)
	h.head, h.tail = nil, nil
	return n
}

func (h *History) moveToFront(e *entry) {
	if e == h.head {
		return
	}
	h.remove(e)
	h.addToFront(e)
}

func (h *History) addToFront(e *entry) {
	e.next = h.head
	e.prev = nil
	if h.head != nil {
		h.head.prev = e
	}
	h.head = e
	if h.tail == nil {
		h.tail = e
	}
}

func (h *History) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		h.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		h.tail = e.prev
	}
}

func (h *History) evictTail() {
	if h.tail == nil {
		return
	}
	delete(h.entries, h.tail.value.Dirname)
	h.remove(h.tail)
}
