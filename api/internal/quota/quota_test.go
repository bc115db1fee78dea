package quota

import (
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

func newTestTracker(limit int) *Tracker {
	return NewTracker(limit).WithClock(func() time.Time { return fixedNow })
}

func TestCheckIsIdempotent(t *testing.T) {
	tr := newTestTracker(20)
	s := State{Count: 7, Date: "2026-03-14"}

	a := tr.Check(s)
	b := tr.Check(s)
	if a != b {
		t.Errorf("Check not idempotent: %+v vs %+v", a, b)
	}
	if a.Remaining != 13 || !a.Allowed || a.Limit != 20 {
		t.Errorf("Check = %+v", a)
	}
}

func TestDayRollover(t *testing.T) {
	tr := newTestTracker(20)
	st := tr.Check(State{Count: 20, Date: "2026-03-13"})
	if !st.Allowed || st.Remaining != 20 {
		t.Errorf("yesterday's exhausted state: %+v", st)
	}

	next, remaining := tr.Consume(State{Count: 20, Date: "2026-03-13"})
	if next.Count != 1 || next.Date != "2026-03-14" || remaining != 19 {
		t.Errorf("Consume after rollover = %+v, %d", next, remaining)
	}
}

func TestConsumeMonotonic(t *testing.T) {
	tr := newTestTracker(3)
	s := State{}
	want := []int{2, 1, 0, 0, 0}
	for i, w := range want {
		var remaining int
		s, remaining = tr.Consume(s)
		if remaining != w {
			t.Fatalf("consume %d: remaining = %d, want %d", i+1, remaining, w)
		}
		if s.Count != i+1 {
			t.Fatalf("consume %d: count = %d", i+1, s.Count)
		}
	}
}

func TestLimitBoundary(t *testing.T) {
	tr := newTestTracker(20)
	if !tr.Check(State{Count: 19, Date: "2026-03-14"}).Allowed {
		t.Error("20th scan should be allowed")
	}
	st := tr.Check(State{Count: 20, Date: "2026-03-14"})
	if st.Allowed || st.Remaining != 0 {
		t.Errorf("21st scan: %+v", st)
	}
}

func TestNegativeCountResets(t *testing.T) {
	tr := newTestTracker(20)
	if st := tr.Check(State{Count: -50, Date: "2026-03-14"}); st.Remaining != 20 {
		t.Errorf("negative count should reset, got %+v", st)
	}
}

func TestTodayUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	tr := NewTracker(20).WithClock(func() time.Time { return fixedNow.In(loc) })
	if got := tr.Today(); got != "2026-03-14" {
		t.Errorf("Today() = %q, want UTC date", got)
	}
}

func TestJSONCodec(t *testing.T) {
	var c JSONCodec
	tok, err := c.Encode(State{Count: 3, Date: "2026-03-14"})
	if err != nil {
		t.Fatal(err)
	}
	if tok != `{"count":3,"date":"2026-03-14"}` {
		t.Errorf("Encode = %s", tok)
	}
	if s := c.Decode(tok); s.Count != 3 || s.Date != "2026-03-14" {
		t.Errorf("Decode = %+v", s)
	}
	for _, bad := range []string{"", "not json", `{"count":"x"}`} {
		if s := c.Decode(bad); s != (State{}) {
			t.Errorf("Decode(%q) = %+v, want zero", bad, s)
		}
	}
}

func TestCorruptTokenIsFreshDay(t *testing.T) {
	tr := newTestTracker(20)
	st := tr.Check(JSONCodec{}.Decode("%%%garbage"))
	if !st.Allowed || st.Remaining != 20 {
		t.Errorf("corrupt token: %+v", st)
	}
}

func TestSignedCodec(t *testing.T) {
	c, err := NewSignedCodec("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return fixedNow }

	tok, err := c.Encode(State{Count: 5, Date: "2026-03-14"})
	if err != nil {
		t.Fatal(err)
	}
	if s := c.Decode(tok); s.Count != 5 || s.Date != "2026-03-14" {
		t.Errorf("Decode = %+v", s)
	}

	other, _ := NewSignedCodec("other-secret")
	other.now = c.now
	if s := other.Decode(tok); s != (State{}) {
		t.Errorf("token signed with another secret accepted: %+v", s)
	}

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if s := c.Decode(tampered); s != (State{}) {
		t.Errorf("tampered token accepted: %+v", s)
	}

	if s := c.Decode(`{"count":0,"date":"2026-03-14"}`); s != (State{}) {
		t.Errorf("plain JSON accepted by signed codec: %+v", s)
	}
}

func TestSignedCodecExpired(t *testing.T) {
	c, _ := NewSignedCodec("test-secret")
	c.now = func() time.Time { return fixedNow }
	tok, _ := c.Encode(State{Count: 1, Date: "2026-03-14"})

	c.now = func() time.Time { return fixedNow.Add(72 * time.Hour) }
	if s := c.Decode(tok); s != (State{}) {
		t.Errorf("expired token accepted: %+v", s)
	}
}

func TestNewCodec(t *testing.T) {
	if _, ok := NewCodec("").(JSONCodec); !ok {
		t.Error("empty secret should yield JSONCodec")
	}
	if _, ok := NewCodec("s").(*SignedCodec); !ok {
		t.Error("secret should yield SignedCodec")
	}
	if _, err := NewSignedCodec(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
