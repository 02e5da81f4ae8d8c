// ABOUTME: Room directory mapping channel rooms to subscribed connections
// ABOUTME: MemoryDirectory is the single-process implementation with non-blocking fan-out

package realtime

import (
	"log/slog"
	"sort"
	"sync"
)

// Subscriber receives encoded frames published to the rooms it joined.
// Deliver must not block; it reports false when the frame was dropped.
type Subscriber interface {
	ID() string
	Deliver(payload []byte) bool
}

// Directory tracks which subscribers are joined to which rooms. A room is
// named after the channel it carries. Implementations must be safe for
// concurrent use.
type Directory interface {
	Join(roomID string, sub Subscriber)
	Leave(roomID, subID string)
	LeaveAll(subID string)
	Publish(roomID string, payload []byte) (delivered, dropped int)
	Rooms(subID string) []string
	RoomSize(roomID string) int
}

// MemoryDirectory keeps room membership in process memory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Subscriber // roomID -> subID -> subscriber
	joined map[string]map[string]struct{}   // subID -> roomIDs
	logger *slog.Logger
}

// NewMemoryDirectory creates an empty directory. Pass nil logger for default.
func NewMemoryDirectory(logger *slog.Logger) *MemoryDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryDirectory{
		rooms:  make(map[string]map[string]Subscriber),
		joined: make(map[string]map[string]struct{}),
		logger: logger.With("component", "directory"),
	}
}

// Join adds sub to roomID. Joining twice is a no-op.
func (d *MemoryDirectory) Join(roomID string, sub Subscriber) {
	subID := sub.ID()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.rooms[roomID]; !ok {
		d.rooms[roomID] = make(map[string]Subscriber)
	}
	d.rooms[roomID][subID] = sub

	if _, ok := d.joined[subID]; !ok {
		d.joined[subID] = make(map[string]struct{})
	}
	d.joined[subID][roomID] = struct{}{}
}

// Leave removes subID from roomID.
func (d *MemoryDirectory) Leave(roomID, subID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveLocked(roomID, subID)
}

// LeaveAll removes subID from every room it joined.
func (d *MemoryDirectory) LeaveAll(subID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for roomID := range d.joined[subID] {
		d.leaveLocked(roomID, subID)
	}
	delete(d.joined, subID)
}

func (d *MemoryDirectory) leaveLocked(roomID, subID string) {
	if subs, ok := d.rooms[roomID]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(d.rooms, roomID)
		}
	}
	if rooms, ok := d.joined[subID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(d.joined, subID)
		}
	}
}

// Publish hands payload to every subscriber of roomID. Subscribers are
// copied under the read lock so delivery never holds it.
func (d *MemoryDirectory) Publish(roomID string, payload []byte) (delivered, dropped int) {
	d.mu.RLock()
	subs := d.rooms[roomID]
	targets := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		if sub.Deliver(payload) {
			delivered++
			continue
		}
		dropped++
		d.logger.Debug("dropped frame for slow subscriber",
			"room_id", roomID,
			"sub_id", sub.ID())
	}
	return delivered, dropped
}

// Rooms returns the rooms subID has joined, sorted.
func (d *MemoryDirectory) Rooms(subID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]string, 0, len(d.joined[subID]))
	for roomID := range d.joined[subID] {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomSize returns the number of subscribers joined to roomID.
func (d *MemoryDirectory) RoomSize(roomID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[roomID])
}
