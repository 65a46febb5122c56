package core

// FifoSize is the number of task slots per channel, the active task's
// placeholder included
const FifoSize = 4

// Task is one pulse train request.
// Times are in nanoseconds and are converted to ticks only when the task
// becomes the active task of its channel.
type Task struct {
	Dir     bool   // Direction: false = forward (+1 per toggle), true = reverse
	Toggles uint32 // Number of pin changes, 0 = infinite
	SetupNs uint32 // Time spent in the setup (low) phase
	HoldNs  uint32 // Time spent in the hold (high) phase
	DelayNs uint32 // Delay before the first toggle
}

// taskSlot is a queue entry
type taskSlot struct {
	occupied bool
	task     Task
}

// TaskQueue is a fixed-capacity circular buffer of tasks for one channel.
// The slot at the read position belongs to the active task; the slot is
// marked occupied while the channel is busy even when it does not hold the
// task's parameters.
type TaskQueue struct {
	slots [FifoSize]taskSlot
	pos   uint8 // Read position (slot of the active task)
}

// MarkActive marks the read slot as owned by the active task
func (q *TaskQueue) MarkActive() {
	q.slots[q.pos].occupied = true
}

// Push stores a task in the first free slot after the read position.
// Returns false and leaves the queue untouched if every slot is taken.
func (q *TaskQueue) Push(t Task) bool {
	for i := uint8(1); i < FifoSize; i++ {
		slot := &q.slots[(q.pos+i)%FifoSize]
		if !slot.occupied {
			slot.occupied = true
			slot.task = t
			return true
		}
	}
	return false
}

// Next releases the read slot, advances the read position and returns the
// task in the new read slot, if there is one
func (q *TaskQueue) Next() (Task, bool) {
	q.slots[q.pos].occupied = false
	q.pos = (q.pos + 1) % FifoSize

	slot := &q.slots[q.pos]
	if !slot.occupied {
		return Task{}, false
	}
	return slot.task, true
}

// Clear empties the queue, the active slot included
func (q *TaskQueue) Clear() {
	for i := range q.slots {
		q.slots[i].occupied = false
	}
}

// Pending returns the number of queued tasks waiting behind the active one
func (q *TaskQueue) Pending() int {
	n := 0
	for i := uint8(1); i < FifoSize; i++ {
		if q.slots[(q.pos+i)%FifoSize].occupied {
			n++
		}
	}
	return n
}

// Occupied returns the number of occupied slots, the active slot included
func (q *TaskQueue) Occupied() int {
	n := 0
	for i := range q.slots {
		if q.slots[i].occupied {
			n++
		}
	}
	return n
}
