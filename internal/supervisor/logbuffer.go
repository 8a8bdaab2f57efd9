package supervisor

import (
	"sync"
	"time"
)

// LogEntry is one line of output captured from a managed app
type LogEntry struct {
	ID        int64
	Timestamp time.Time
	Source    string // "stdout", "stderr" or "god"
	Message   string
	PID       int
}

// LogBuffer keeps the most recent output lines of one app
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	nextID   int64
}

// NewLogBuffer creates a new log buffer with the specified capacity
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogBuffer{
		entries:  make([]LogEntry, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// Add appends a line, dropping the oldest one when full
func (lb *LogBuffer) Add(source, message string, pid int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	entry := LogEntry{
		ID:        lb.nextID,
		Timestamp: time.Now(),
		Source:    source,
		Message:   message,
		PID:       pid,
	}
	if len(lb.entries) >= lb.capacity {
		lb.entries = lb.entries[1:]
	}
	lb.entries = append(lb.entries, entry)
	lb.nextID++
}

// Since returns entries with an ID greater than fromID
func (lb *LogBuffer) Since(fromID int64) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogEntry, 0)
	for _, entry := range lb.entries {
		if entry.ID > fromID {
			result = append(result, entry)
		}
	}
	return result
}

// Tail returns the most recent n entries, optionally filtered by source
func (lb *LogBuffer) Tail(n int, source string) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if n <= 0 {
		return []LogEntry{}
	}
	var result []LogEntry
	for i := len(lb.entries) - 1; i >= 0 && len(result) < n; i-- {
		if source != "" && lb.entries[i].Source != source {
			continue
		}
		result = append(result, lb.entries[i])
	}
	// oldest first
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// LatestID returns the ID of the most recent entry, or 0 when empty
func (lb *LogBuffer) LatestID() int64 {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if len(lb.entries) == 0 {
		return 0
	}
	return lb.entries[len(lb.entries)-1].ID
}
