package tiling

import (
	"sort"
	"sync"
	"time"
)

// Image processing states reported by RunEach and ProgressTracker
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ImageStatus is the last known state of one image in the current run.
type ImageStatus struct {
	Index     int       `json:"index"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProgressTracker records per-image status for HTTP endpoints
type ProgressTracker struct {
	mu      sync.RWMutex
	runID   string
	total   int
	images  map[int]*ImageStatus
	started time.Time
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		images: make(map[int]*ImageStatus),
	}
}

// Begin resets the tracker for a new run over total images
func (pt *ProgressTracker) Begin(runID string, total int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.runID = runID
	pt.total = total
	pt.images = make(map[int]*ImageStatus)
	pt.started = time.Now()
}

// Update stores the status of one image. It matches the RunEach callback.
func (pt *ProgressTracker) Update(index int, source, status string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.images[index] = &ImageStatus{
		Index:     index,
		Source:    source,
		Status:    status,
		UpdatedAt: time.Now(),
	}
}

// Get returns the status of one image
func (pt *ProgressTracker) Get(index int) (ImageStatus, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	s, ok := pt.images[index]
	if !ok {
		return ImageStatus{}, false
	}
	return *s, true
}

// ProgressSnapshot is a point-in-time copy of the tracker
type ProgressSnapshot struct {
	RunID   string        `json:"runId,omitempty"`
	Total   int           `json:"total"`
	Running int           `json:"running"`
	Done    int           `json:"done"`
	Failed  int           `json:"failed"`
	Started time.Time     `json:"started,omitzero"`
	Images  []ImageStatus `json:"images"`
}

// Snapshot copies the current state, images ordered by index
func (pt *ProgressTracker) Snapshot() ProgressSnapshot {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	snap := ProgressSnapshot{
		RunID:   pt.runID,
		Total:   pt.total,
		Started: pt.started,
		Images:  make([]ImageStatus, 0, len(pt.images)),
	}
	for _, s := range pt.images {
		switch s.Status {
		case StatusRunning:
			snap.Running++
		case StatusDone:
			snap.Done++
		case StatusFailed:
			snap.Failed++
		}
		snap.Images = append(snap.Images, *s)
	}
	sort.Slice(snap.Images, func(i, j int) bool {
		return snap.Images[i].Index < snap.Images[j].Index
	})
	return snap
}
