package model

import (
	"encoding/json"
	"testing"
)

func TestSignalEquality(t *testing.T) {
	if !Signal().Equal(Signal()) {
		t.Error("Signal must equal Signal")
	}
	if Signal().Equal(Unsigned(0)) {
		t.Error("Signal must not equal Unsigned(0)")
	}
}

func TestComparableRequiresSameTag(t *testing.T) {
	if Unsigned(5).Comparable(Signed(5)) {
		t.Error("Unsigned and Signed must not be comparable")
	}
	if _, ok := Unsigned(5).Compare(Signed(5)); ok {
		t.Error("Compare across tags must report not-ok")
	}
	n, ok := Unsigned(5).Compare(Unsigned(10))
	if !ok || n >= 0 {
		t.Errorf("Unsigned(5) vs Unsigned(10): got (%d,%v)", n, ok)
	}
}

func TestStringEqualityOnly(t *testing.T) {
	if !Str("a").Equal(Str("a")) {
		t.Error("equal strings must be Equal")
	}
	if Str("a").Comparable(Str("b")) {
		t.Error("strings must not be Comparable (ordering undefined per spec)")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []ActuatorValue{
		Signal(),
		Unsigned(7),
		Signed(-3),
		Double(2.5),
		Str("hi"),
	}
	for _, v := range cases {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %+v: %v", v, err)
		}
		var got ActuatorValue
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if !got.Equal(v) {
			t.Errorf("round trip mismatch: got %+v want %+v (json %s)", got, v, b)
		}
	}
}

func TestJSONSignalIsBareString(t *testing.T) {
	b, err := json.Marshal(Signal())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"signal"` {
		t.Errorf("got %s, want \"signal\"", b)
	}
}

func TestJSONIntegerAliasesSigned(t *testing.T) {
	var v ActuatorValue
	if err := json.Unmarshal([]byte(`{"integer":12}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindSigned || v.Signed != 12 {
		t.Errorf("got %+v, want Signed(12)", v)
	}
}

func TestConditionMatches(t *testing.T) {
	cases := []struct {
		name     string
		cond     Condition
		observed ActuatorValue
		want     bool
	}{
		{"any matches signal", Condition{Op: OpAny}, Signal(), true},
		{"equal signal", Condition{Op: OpEqual, Value: Signal()}, Signal(), true},
		{"equal mismatched tag", Condition{Op: OpEqual, Value: Signed(12)}, Signal(), false},
		{"greater than", Condition{Op: OpGreaterThan, Value: Unsigned(5)}, Unsigned(10), true},
		{"less than false", Condition{Op: OpLessThan, Value: Unsigned(5)}, Unsigned(10), false},
		{"greater or equal boundary", Condition{Op: OpGreaterOrEqual, Value: Double(5)}, Double(5), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.cond.Matches(c.observed); got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestComparePeers(t *testing.T) {
	a := PeerID([]byte{1, 2, 3})
	b := PeerID([]byte{1, 2, 4})
	if ComparePeers(a, b) >= 0 {
		t.Error("expected a < b")
	}
	if ComparePeers(a, a) != 0 {
		t.Error("expected equal peers to compare 0")
	}
	if ComparePeers(b, a) <= 0 {
		t.Error("expected b > a")
	}
}
