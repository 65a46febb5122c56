package core

import "testing"

func TestTaskQueueFIFO(t *testing.T) {
	var q TaskQueue
	q.MarkActive()

	for i := uint32(1); i < FifoSize; i++ {
		if !q.Push(Task{Toggles: i}) {
			t.Fatalf("Push %d failed", i)
		}
	}
	if q.Push(Task{Toggles: 99}) {
		t.Error("Push into a full queue succeeded")
	}
	if q.Occupied() != FifoSize {
		t.Errorf("Expected %d occupied slots, got %d", FifoSize, q.Occupied())
	}

	for i := uint32(1); i < FifoSize; i++ {
		task, ok := q.Next()
		if !ok {
			t.Fatalf("Next %d returned nothing", i)
		}
		if task.Toggles != i {
			t.Errorf("Expected task %d, got %d", i, task.Toggles)
		}
	}
	if _, ok := q.Next(); ok {
		t.Error("Next on an empty queue returned a task")
	}
	if q.Occupied() != 0 {
		t.Errorf("Expected empty queue, %d occupied", q.Occupied())
	}
}

func TestTaskQueueWrap(t *testing.T) {
	var q TaskQueue
	q.MarkActive()

	// Cycle the read position around the ring a few times
	for i := uint32(0); i < 3*FifoSize; i++ {
		if !q.Push(Task{Toggles: i}) {
			t.Fatalf("Push %d failed", i)
		}
		task, ok := q.Next()
		if !ok || task.Toggles != i {
			t.Fatalf("Step %d: got %d/%v", i, task.Toggles, ok)
		}
		if q.Pending() != 0 {
			t.Fatalf("Step %d: %d pending", i, q.Pending())
		}
	}
}

func TestTaskQueueClear(t *testing.T) {
	var q TaskQueue
	q.MarkActive()
	q.Push(Task{Toggles: 1})
	q.Push(Task{Toggles: 2})

	if q.Pending() != 2 {
		t.Fatalf("Expected 2 pending, got %d", q.Pending())
	}

	q.Clear()
	if q.Occupied() != 0 {
		t.Errorf("Clear left %d slots occupied", q.Occupied())
	}
	if _, ok := q.Next(); ok {
		t.Error("Next after Clear returned a task")
	}
}
