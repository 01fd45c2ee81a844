package audio

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/testutil/testlog"
)

func TestSessionLifecycle(t *testing.T) {
	testlog.Start(t)
	s := NewSink(Config{})
	if err := s.StartSession(call.ModeVoLTE); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := s.Stats(); st.Session != call.ModeVoLTE || st.Sessions != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	_ = s.StopSession()
	if st := s.Stats(); st.Session != call.ModeNone {
		t.Fatalf("session not cleared %+v", st)
	}
}

func TestToneAndRecordHonorCancellation(t *testing.T) {
	testlog.Start(t)
	s := NewSink(Config{ToneCadence: 5 * time.Millisecond, MaxRecording: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.PlayAlertingTone(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("tone: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("tone did not stop on cancel")
	}

	start := time.Now()
	if err := s.Record(context.Background()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("recording must stop at MaxRecording")
	}
	if st := s.Stats(); st.Tones != 1 || st.Recordings != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
