package mloop

import (
	"testing"
)

func TestPostOrdering(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.RunUntilIdle()
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order: got sequence %v", i, got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 tasks, ran %d", len(got))
	}
}

func TestTasksPostedByTasksRun(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() {
		l.Post(func() { ran = true })
	})
	l.RunUntilIdle()
	if !ran {
		t.Fatal("nested task did not run")
	}
}

func TestQuitDropsNewTasks(t *testing.T) {
	l := New()
	l.Quit()
	l.Post(func() { t.Fatal("task ran after Quit") })
	l.RunUntilIdle()
}

func TestRunExitsAfterQuit(t *testing.T) {
	l := New()
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	l.Post(func() {})
	l.Quit()
	<-done
}
