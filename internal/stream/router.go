package stream

import (
	"log"
	"sync"
)

// MaxQueueSize bounds each controller's frame queue. At 30 fps this is
// roughly one second of backlog before old frames give way to new ones.
const MaxQueueSize = 30

// Stats summarizes one session's video flow.
type Stats struct {
	TotalFrames   uint64  `json:"total_frames"`
	TotalBytes    uint64  `json:"total_bytes"`
	DroppedFrames uint64  `json:"dropped_frames"`
	AvgFrameSize  float64 `json:"avg_frame_size"`
}

type controllerQueue struct {
	frames [][]byte
	signal chan struct{}
}

type endpoint struct {
	mu        sync.Mutex
	sessionID string
	deviceID  string
	order     []string
	queues    map[string]*controllerQueue
	stats     Stats
}

// Router fans device frames out to per-controller bounded queues. Frame
// buffers are enqueued by reference: one buffer is shared across every
// queue and must not be mutated after RouteFrame.
type Router struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
}

func NewRouter() *Router {
	return &Router{endpoints: make(map[string]*endpoint)}
}

// RegisterDevice creates the session's stream endpoint.
func (r *Router) RegisterDevice(sessionID, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[sessionID]; ok {
		return
	}
	r.endpoints[sessionID] = &endpoint{
		sessionID: sessionID,
		deviceID:  deviceID,
		queues:    make(map[string]*controllerQueue),
	}
	log.Printf("[STREAM] Registered device %s for session %s", deviceID, sessionID)
}

// RegisterController attaches a controller queue and returns a signal
// channel that receives a tick whenever a frame lands in the queue.
func (r *Router) RegisterController(sessionID, controllerID string) <-chan struct{} {
	ep := r.endpoint(sessionID)
	if ep == nil {
		return nil
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	if q, ok := ep.queues[controllerID]; ok {
		return q.signal
	}
	q := &controllerQueue{signal: make(chan struct{}, 1)}
	ep.queues[controllerID] = q
	ep.order = append(ep.order, controllerID)
	log.Printf("[STREAM] Registered controller %s for session %s", controllerID, sessionID)
	return q.signal
}

// RouteFrame enqueues one frame into every attached controller queue,
// dropping the oldest entry of any queue already at capacity.
func (r *Router) RouteFrame(sessionID string, frame []byte) {
	ep := r.endpoint(sessionID)
	if ep == nil {
		return
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.stats.TotalFrames++
	ep.stats.TotalBytes += uint64(len(frame))
	ep.stats.AvgFrameSize = float64(ep.stats.TotalBytes) / float64(ep.stats.TotalFrames)

	for _, controllerID := range ep.order {
		q := ep.queues[controllerID]
		if len(q.frames) >= MaxQueueSize {
			// Newer frames win under pressure.
			q.frames = q.frames[1:]
			ep.stats.DroppedFrames++
		}
		q.frames = append(q.frames, frame)

		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
}

// GetFrame pops the oldest queued frame for a controller. Non-blocking.
func (r *Router) GetFrame(sessionID, controllerID string) ([]byte, bool) {
	ep := r.endpoint(sessionID)
	if ep == nil {
		return nil, false
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	q, ok := ep.queues[controllerID]
	if !ok || len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return frame, true
}

// QueueLen reports the controller's current backlog.
func (r *Router) QueueLen(sessionID, controllerID string) int {
	ep := r.endpoint(sessionID)
	if ep == nil {
		return 0
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if q, ok := ep.queues[controllerID]; ok {
		return len(q.frames)
	}
	return 0
}

// UnregisterDevice tears the endpoint down with all its queues.
func (r *Router) UnregisterDevice(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.endpoints[sessionID]; ok {
		delete(r.endpoints, sessionID)
		log.Printf("[STREAM] Unregistered device stream for session %s", ep.sessionID)
	}
}

// UnregisterController removes one controller's queue.
func (r *Router) UnregisterController(sessionID, controllerID string) {
	ep := r.endpoint(sessionID)
	if ep == nil {
		return
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	if _, ok := ep.queues[controllerID]; !ok {
		return
	}
	delete(ep.queues, controllerID)
	for i, id := range ep.order {
		if id == controllerID {
			ep.order = append(ep.order[:i], ep.order[i+1:]...)
			break
		}
	}
}

// GetStats snapshots the session's counters.
func (r *Router) GetStats(sessionID string) Stats {
	ep := r.endpoint(sessionID)
	if ep == nil {
		return Stats{}
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.stats
}

// endpoint resolves under the outer lock only; callers take the inner
// lock themselves. The outer lock is never held while the inner is.
func (r *Router) endpoint(sessionID string) *endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[sessionID]
}
