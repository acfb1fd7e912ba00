package bridge

import "testing"

func TestTokenBucketExhaustion(t *testing.T) {
	tb := NewTokenBucket(60, 3)
	for i := 0; i < 3; i++ {
		if !tb.Take() {
			t.Fatalf("take %d failed within burst", i)
		}
	}
	if tb.Take() {
		t.Fatal("take succeeded past burst capacity")
	}
	if tb.Available() {
		t.Fatal("Available reports true on an empty bucket")
	}
}

func TestAuthLimiterDisabled(t *testing.T) {
	l := newAuthLimiter(false, 1, 1)
	for i := 0; i < 10; i++ {
		l.failed()
	}
	if !l.allow() {
		t.Fatal("disabled limiter blocked a request")
	}
}

func TestAuthLimiterBurnsOnFailure(t *testing.T) {
	l := newAuthLimiter(true, 1, 2)
	if !l.allow() {
		t.Fatal("fresh limiter blocked a request")
	}
	l.failed()
	l.failed()
	if l.allow() {
		t.Fatal("limiter allowed after burst of failures")
	}
}
