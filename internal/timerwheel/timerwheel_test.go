package timerwheel

import "testing"

func TestStartExpiresAfterTimeout(t *testing.T) {
	w := New(Timeout+10, 4)
	var expired []int
	w.Start(0, 0, Timeout)

	// Advance just short of the timeout: nothing should expire yet.
	w.Expire(float64(Timeout-1)*Tick, func(i int) { expired = append(expired, i) })
	if len(expired) != 0 {
		t.Fatalf("expired too early: %v", expired)
	}

	w.Expire(float64(Timeout+1)*Tick, func(i int) { expired = append(expired, i) })
	if len(expired) != 1 || expired[0] != 0 {
		t.Fatalf("expired = %v, want [0]", expired)
	}
}

func TestUpdateReArmsAndDelaysExpiry(t *testing.T) {
	w := New(2*Timeout+10, 4)
	var expired []int
	w.Start(0, 0, Timeout)

	// Re-arm well before the original deadline, as if a packet had just
	// matched the session. The new deadline is Timeout ticks further out
	// from this later point, well past where the original deadline was.
	rearmTick := Timeout - 50
	w.Update(0, float64(rearmTick)*Tick, Timeout)

	// Advance past where the ORIGINAL deadline would have fired; the
	// re-arm should have pushed it out, so nothing fires yet.
	w.Expire(float64(Timeout+10)*Tick, func(i int) { expired = append(expired, i) })
	if len(expired) != 0 {
		t.Fatalf("expired before the re-armed deadline: %v", expired)
	}

	w.Expire(float64(rearmTick+Timeout+10)*Tick, func(i int) { expired = append(expired, i) })
	if len(expired) != 1 || expired[0] != 0 {
		t.Fatalf("expired = %v after re-armed deadline, want [0]", expired)
	}
}

func TestMultipleSessionsExpireIndependently(t *testing.T) {
	w := New(Timeout+10, 4)
	var expired []int
	w.Start(0, 0, Timeout)
	w.Start(1, 0, Timeout+5)

	w.Expire(float64(Timeout+1)*Tick, func(i int) { expired = append(expired, i) })
	if len(expired) != 1 || expired[0] != 0 {
		t.Fatalf("first expiry = %v, want [0]", expired)
	}

	expired = nil
	w.Expire(float64(Timeout+6)*Tick, func(i int) { expired = append(expired, i) })
	if len(expired) != 1 || expired[0] != 1 {
		t.Fatalf("second expiry = %v, want [1]", expired)
	}
}
