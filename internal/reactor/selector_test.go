package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSelector_WakeupInterruptsWait(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	defer sel.Close()

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		sel.Wakeup()
	}()

	start := time.Now()
	_, err = sel.Wait(nil, 5000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Wait did not return promptly after Wakeup")
	}
	close(done)
}

func TestSelector_ReadReadiness(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	sel, err := NewSelector()
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	defer sel.Close()

	if err := sel.Register(fds[0], OpRead); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := unix.Write(fds[1], []byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	events, err := sel.Wait(nil, 2000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].FD != fds[0] || events[0].Ops&OpRead == 0 {
		t.Fatalf("events = %+v, want one OpRead event on fd %d", events, fds[0])
	}
}

func TestSelector_DeregisterIsIdempotent(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	defer sel.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if err := sel.Register(fds[0], OpRead); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := sel.Deregister(fds[0]); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if err := sel.Deregister(fds[0]); err != nil {
		t.Fatalf("second Deregister: %v", err)
	}
}
