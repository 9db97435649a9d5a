package bencode

import (
	"testing"

	"bittorrent/internal/btError"
)

func TestDecodeInt(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "zero", input: "i0e", want: 0},
		{name: "positive", input: "i32e", want: 32},
		{name: "negative", input: "i-32e", want: -32},
		{name: "large", input: "i1043002e", want: 1043002},
		{name: "missing terminator", input: "i32", wantErr: true},
		{name: "missing digits", input: "i-e", wantErr: true},
		{name: "plus sign invalid", input: "i+32e", wantErr: true},
		{name: "non-digit characters", input: "i12a3e", wantErr: true},
		{name: "space inside number", input: "i1 3e", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Decode([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Decode(%q) = %v, want error", tc.input, v)
				}
				if !btError.Is(err, btError.BencodeInvalid) {
					t.Fatalf("Decode(%q) error kind = %v, want BencodeInvalid", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) unexpected error: %v", tc.input, err)
			}
			got, ok := v.AsInt()
			if !ok || got != tc.want {
				t.Fatalf("Decode(%q) = %v, want %d", tc.input, v, tc.want)
			}
		})
	}
}

func TestDecodeIntLenientByDefault(t *testing.T) {
	// The grammar calls "-0" and leading zeros malformed but accepted
	// leniently on input; Strict defaults to off so these succeed.
	for _, input := range []string{"i-0e", "i03e"} {
		v, err := Decode([]byte(input))
		if err != nil {
			t.Fatalf("Decode(%q) unexpected error in lenient mode: %v", input, err)
		}
		if v.Kind != KindInt {
			t.Fatalf("Decode(%q) = %v, want an integer Value", input, v)
		}
	}
}

func TestDecodeIntStrictRejectsLeniencies(t *testing.T) {
	d := NewDecoder([]byte("i-0e"))
	d.Strict = true
	if _, err := d.Decode(); err == nil {
		t.Fatalf("Decode with Strict=true accepted -0")
	}

	d = NewDecoder([]byte("i03e"))
	d.Strict = true
	if _, err := d.Decode(); err == nil {
		t.Fatalf("Decode with Strict=true accepted leading zero")
	}
}

func TestDecodeString(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "short", input: "5:Alice", want: "Alice"},
		{name: "empty", input: "0:", want: ""},
		{name: "long", input: "20:alicealicealicealice", want: "alicealicealicealice"},
		{name: "missing colon", input: "5alice", wantErr: true},
		{name: "length exceeds buffer", input: "5:eggs", wantErr: true},
		{name: "negative length", input: "-5:eggs", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Decode([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Decode(%q) = %v, want error", tc.input, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) unexpected error: %v", tc.input, err)
			}
			got, ok := v.String()
			if !ok || got != tc.want {
				t.Fatalf("Decode(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestDecodeListAndDict(t *testing.T) {
	v, err := Decode([]byte("l5:helloi52ee"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, ok := v.AsList()
	if !ok || len(list) != 2 {
		t.Fatalf("unexpected list: %v", v)
	}
	if s, _ := list[0].String(); s != "hello" {
		t.Fatalf("list[0] = %v, want hello", list[0])
	}
	if n, _ := list[1].AsInt(); n != 52 {
		t.Fatalf("list[1] = %v, want 52", list[1])
	}

	v, err = Decode([]byte("d3:foo3:bar5:helloi52ee"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict, ok := v.AsDict()
	if !ok {
		t.Fatalf("expected a dict, got %v", v)
	}
	if s, _ := dict["foo"].String(); s != "bar" {
		t.Fatalf("dict[foo] = %v, want bar", dict["foo"])
	}
	if n, _ := dict["hello"].AsInt(); n != 52 {
		t.Fatalf("dict[hello] = %v, want 52", dict["hello"])
	}
}

func TestDecodeDictNonStringKey(t *testing.T) {
	_, err := Decode([]byte("di32e7:versioni5ee"))
	if err == nil {
		t.Fatalf("expected an error for a non-string dict key")
	}
}

func TestDecodeAtReportsConsumedLength(t *testing.T) {
	buf := []byte("5:helloXXXXX")
	d := NewDecoder(buf)
	_, pos, err := d.DecodeAt(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != 7 {
		t.Fatalf("DecodeAt consumed to %d, want 7", pos)
	}
}
