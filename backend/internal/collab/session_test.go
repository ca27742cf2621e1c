package collab

import (
	"testing"
	"time"
)

func TestSession_SweepTransitions(t *testing.T) {
	now := time.Now()
	s := &Session{Status: StatusActive, LastActivity: now}

	idleAfter := 30 * time.Second
	leaveAfter := 5 * time.Minute

	if remove := s.sweep(now.Add(10*time.Second), idleAfter, leaveAfter); remove {
		t.Fatalf("sweep removed active session too early")
	}
	if s.Status != StatusActive {
		t.Fatalf("Status = %s, want active", s.Status)
	}

	if remove := s.sweep(now.Add(idleAfter), idleAfter, leaveAfter); remove {
		t.Fatalf("sweep removed idle session")
	}
	if s.Status != StatusIdle {
		t.Fatalf("Status = %s, want idle", s.Status)
	}

	if remove := s.sweep(now.Add(leaveAfter), idleAfter, leaveAfter); !remove {
		t.Fatalf("sweep did not remove session after leaveAfter")
	}
	if s.Status != StatusLeft {
		t.Fatalf("Status = %s, want left", s.Status)
	}
}

func TestSession_JoiningActivatesOnFirstTouch(t *testing.T) {
	now := time.Now()
	s := &Session{Status: StatusJoining, LastActivity: now}

	idleAfter := 30 * time.Second
	leaveAfter := 5 * time.Minute

	// joining 不经历 idle，半途而废的接入靠 leaveAfter 清理
	if remove := s.sweep(now.Add(idleAfter), idleAfter, leaveAfter); remove {
		t.Fatalf("sweep removed joining session too early")
	}
	if s.Status != StatusJoining {
		t.Fatalf("Status = %s, want joining before first activity", s.Status)
	}
	s.touch(now.Add(time.Second))
	if s.Status != StatusActive {
		t.Fatalf("Status = %s, want active after first touch", s.Status)
	}

	abandoned := &Session{Status: StatusJoining, LastActivity: now}
	if remove := abandoned.sweep(now.Add(leaveAfter), idleAfter, leaveAfter); !remove {
		t.Fatalf("sweep kept abandoned joining session past leaveAfter")
	}
}

func TestSession_TouchRevivesIdle(t *testing.T) {
	now := time.Now()
	s := &Session{Status: StatusIdle, LastActivity: now.Add(-time.Minute)}
	s.touch(now)
	if s.Status != StatusActive {
		t.Fatalf("Status = %s, want active after touch", s.Status)
	}
	if !s.LastActivity.Equal(now) {
		t.Fatalf("LastActivity not updated")
	}
}

func TestSession_TypingCountsAsActive(t *testing.T) {
	now := time.Now()
	s := &Session{Status: StatusTyping, LastActivity: now}
	idleAfter := 30 * time.Second
	if remove := s.sweep(now.Add(idleAfter), idleAfter, time.Hour); remove {
		t.Fatalf("sweep removed typing session")
	}
	if s.Status != StatusIdle {
		t.Fatalf("Status = %s, want idle", s.Status)
	}
}
