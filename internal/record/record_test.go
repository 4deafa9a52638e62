package record

import (
	"encoding/json"
	"testing"
)

func parse(t *testing.T, src string) *Record {
	t.Helper()
	r := New()
	if err := json.Unmarshal([]byte(src), r); err != nil {
		t.Fatalf("Unmarshal %s: %v", src, err)
	}
	return r
}

func marshal(t *testing.T, r *Record) string {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(data)
}

func TestRoundTripPreservesFieldOrder(t *testing.T) {
	cases := []string{
		`{"id":"U1","zeta":1,"alpha":2,"mid":3}`,
		`{"b":true,"a":null,"c":[1,2,{"y":2,"x":1}]}`,
		`{}`,
		`{"nested":{"z":1,"a":2}}`,
	}
	for _, src := range cases {
		r := parse(t, src)
		if got := marshal(t, r); got != src {
			t.Errorf("round trip = %s, want %s", got, src)
		}
	}
}

func TestDuplicateKeysLastValueWinsFirstPosition(t *testing.T) {
	r := parse(t, `{"a":1,"b":2,"a":3}`)

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if got := marshal(t, r); got != `{"a":3,"b":2}` {
		t.Errorf("marshal = %s, want {\"a\":3,\"b\":2}", got)
	}
}

func TestUnmarshalRejectsNonObject(t *testing.T) {
	for _, src := range []string{`[1,2]`, `"text"`, `42`, `null`} {
		r := New()
		if err := json.Unmarshal([]byte(src), r); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", src)
		}
	}
}

func TestSetReplacesInPlaceAndAppends(t *testing.T) {
	r := parse(t, `{"a":1,"b":2}`)
	r.Set("a", json.RawMessage(`9`))
	r.Set("c", json.RawMessage(`3`))

	if got := marshal(t, r); got != `{"a":9,"b":2,"c":3}` {
		t.Errorf("marshal = %s", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := parse(t, `{"id":"U1","v":1}`)
	cp := orig.Clone()
	cp.Set("v", json.RawMessage(`2`))
	cp.Set("extra", json.RawMessage(`true`))

	if got := marshal(t, orig); got != `{"id":"U1","v":1}` {
		t.Errorf("original changed: %s", got)
	}
	if !orig.Equal(parse(t, `{"id":"U1","v":1}`)) {
		t.Error("Equal reports original changed")
	}
}

func TestEqualIgnoresValueWhitespace(t *testing.T) {
	a := parse(t, `{"m":{"x": 1}}`)
	b := parse(t, `{"m":{"x":1}}`)
	if !a.Equal(b) {
		t.Error("Equal = false for whitespace-only difference")
	}

	c := parse(t, `{"m":{"x":2}}`)
	if a.Equal(c) {
		t.Error("Equal = true for different values")
	}

	// Field order matters.
	d := parse(t, `{"a":1,"b":2}`)
	e := parse(t, `{"b":2,"a":1}`)
	if d.Equal(e) {
		t.Error("Equal = true for different field order")
	}
}

func TestIdentifierTokens(t *testing.T) {
	cases := []struct {
		src     string
		want    string
		display string
	}{
		{`{"id":"U1"}`, `"U1"`, "U1"},
		{`{"id":42}`, `42`, "42"},
		{`{"id":"1"}`, `"1"`, "1"},
	}
	for _, tc := range cases {
		r := parse(t, tc.src)
		id, ok := r.Identifier("id")
		if !ok || id != tc.want {
			t.Errorf("Identifier(%s) = %q, %v; want %q", tc.src, id, ok, tc.want)
		}
		if got := r.DisplayIdentifier("id"); got != tc.display {
			t.Errorf("DisplayIdentifier(%s) = %q, want %q", tc.src, got, tc.display)
		}
	}

	r := parse(t, `{"name":"no id"}`)
	if _, ok := r.Identifier("id"); ok {
		t.Error("Identifier found on record without id")
	}
	if got := r.DisplayIdentifier("id"); got != "<missing>" {
		t.Errorf("DisplayIdentifier = %q, want <missing>", got)
	}
}

func TestGetString(t *testing.T) {
	r := parse(t, `{"s":"hello","n":7}`)

	if v, ok := r.GetString("s"); !ok || v != "hello" {
		t.Errorf("GetString(s) = %q, %v", v, ok)
	}
	if _, ok := r.GetString("n"); ok {
		t.Error("GetString(n) = ok for number field")
	}
	if _, ok := r.GetString("missing"); ok {
		t.Error("GetString(missing) = ok")
	}
}

func TestSchemaErrorMessage(t *testing.T) {
	err := &SchemaError{Collection: "base", Position: 3, KeyField: "user_id"}
	want := `record 3 in base: missing identifier field "user_id"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = &SchemaError{Collection: "updates", Position: 0, Reason: "element is not an object"}
	want = "record 0 in updates: element is not an object"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
