package debounce

import (
	"testing"
	"time"
)

func TestCooldownAbsorbsRapidRepeats(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCooldown(time.Second)
	c.now = func() time.Time { return now }

	if !c.Allow("sess-1") {
		t.Fatal("first occurrence rejected")
	}
	now = now.Add(300 * time.Millisecond)
	if c.Allow("sess-1") {
		t.Error("repeat inside window accepted")
	}
	now = now.Add(800 * time.Millisecond)
	if !c.Allow("sess-1") {
		t.Error("occurrence after window rejected")
	}
}

func TestCooldownKeysAreIndependent(t *testing.T) {
	c := NewCooldown(time.Second)
	if !c.Allow("a") {
		t.Fatal("first a rejected")
	}
	if !c.Allow("b") {
		t.Error("first b rejected; keys must be independent")
	}
}

func TestCooldownZeroWindowAllowsAll(t *testing.T) {
	c := NewCooldown(0)
	for i := 0; i < 3; i++ {
		if !c.Allow("x") {
			t.Fatalf("call %d rejected with zero window", i)
		}
	}
}

func TestCooldownForgetResets(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCooldown(time.Minute)
	c.now = func() time.Time { return now }

	c.Allow("sess-1")
	c.Forget("sess-1")
	if !c.Allow("sess-1") {
		t.Error("occurrence after Forget rejected")
	}
}
