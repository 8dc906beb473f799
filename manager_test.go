package nio

import "testing"

func TestSessionManagerAllocateFillsHolesBelowMaxIndex(t *testing.T) {
	m := newSessionManager("test", 4)

	s0, s1, s2 := &Session{}, &Session{}, &Session{}
	if err := m.allocate(s0); err != nil {
		t.Fatalf("allocate s0: %v", err)
	}
	if err := m.allocate(s1); err != nil {
		t.Fatalf("allocate s1: %v", err)
	}
	if err := m.allocate(s2); err != nil {
		t.Fatalf("allocate s2: %v", err)
	}
	if s0.slot != 0 || s1.slot != 1 || s2.slot != 2 {
		t.Fatalf("slots = %d,%d,%d want 0,1,2", s0.slot, s1.slot, s2.slot)
	}
	if m.maxIndex != 3 {
		t.Fatalf("maxIndex = %d, want 3", m.maxIndex)
	}

	m.release(s1) // opens a hole at slot 1, below maxIndex-1 (2): no shrink
	if m.maxIndex != 3 {
		t.Fatalf("maxIndex = %d after releasing a non-top slot, want unchanged 3", m.maxIndex)
	}

	s3 := &Session{}
	if err := m.allocate(s3); err != nil {
		t.Fatalf("allocate s3: %v", err)
	}
	if s3.slot != 1 {
		t.Fatalf("s3.slot = %d, want 1 (the hole left by s1)", s3.slot)
	}
}

// TestSessionManagerMaxIndexShrinksToZero is invariant 8: once every
// session closes, maxIndex returns to 0, including cascading through
// holes exposed by the release that triggered the shrink.
func TestSessionManagerMaxIndexShrinksToZero(t *testing.T) {
	m := newSessionManager("test", 4)
	s0, s1, s2 := &Session{}, &Session{}, &Session{}
	m.allocate(s0)
	m.allocate(s1)
	m.allocate(s2)

	m.release(s1) // hole at 1, maxIndex stays 3
	m.release(s2) // top slot freed: shrinks past the hole at 1 down to 1
	if m.maxIndex != 1 {
		t.Fatalf("maxIndex = %d after releasing top and exposing a hole, want 1", m.maxIndex)
	}

	m.release(s0)
	if m.maxIndex != 0 {
		t.Fatalf("maxIndex = %d after releasing all sessions, want 0", m.maxIndex)
	}
	if !m.isCompleted() {
		t.Fatal("isCompleted() = false after releasing all sessions")
	}
}

func TestSessionManagerAllocateFailsWhenFull(t *testing.T) {
	m := newSessionManager("test", 2)
	if err := m.allocate(&Session{}); err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	if err := m.allocate(&Session{}); err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	err := m.allocate(&Session{})
	if err == nil {
		t.Fatal("allocate into a full manager did not error")
	}
	if _, ok := err.(*SessionAllocateError); !ok {
		t.Fatalf("error type = %T, want *SessionAllocateError", err)
	}
}

func TestSessionManagerForEachSkipsHoles(t *testing.T) {
	m := newSessionManager("test", 4)
	s0, s1, s2 := &Session{}, &Session{}, &Session{}
	m.allocate(s0)
	m.allocate(s1)
	m.allocate(s2)
	m.release(s1)

	var visited []*Session
	m.forEach(func(s *Session) { visited = append(visited, s) })
	if len(visited) != 2 || visited[0] != s0 || visited[1] != s2 {
		t.Fatalf("forEach visited %v, want [s0 s2]", visited)
	}
}
