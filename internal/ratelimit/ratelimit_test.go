package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	l := New()
	p := Policy{"test", 5, time.Minute}

	for i := 0; i < 5; i++ {
		if !l.Allow(p, "1.2.3.4") {
			t.Fatalf("request %d denied within budget", i)
		}
	}
	if l.Allow(p, "1.2.3.4") {
		t.Error("sixth request allowed over a 5/min budget")
	}
}

func TestClientsIsolated(t *testing.T) {
	l := New()
	p := Policy{"test", 1, time.Hour}

	if !l.Allow(p, "1.1.1.1") {
		t.Fatal("first client denied")
	}
	if !l.Allow(p, "2.2.2.2") {
		t.Error("second client throttled by first client's bucket")
	}
	if l.Allow(p, "1.1.1.1") {
		t.Error("first client not throttled")
	}
}

func TestPoliciesIsolated(t *testing.T) {
	l := New()
	a := Policy{"a", 1, time.Hour}
	b := Policy{"b", 1, time.Hour}

	l.Allow(a, "1.1.1.1")
	if !l.Allow(b, "1.1.1.1") {
		t.Error("policy b throttled by policy a's bucket")
	}
}

func TestDisabled(t *testing.T) {
	l := New()
	l.Disabled = true
	p := Policy{"test", 1, time.Hour}

	for i := 0; i < 10; i++ {
		if !l.Allow(p, "1.2.3.4") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}
