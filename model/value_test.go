package model

import (
	"encoding/json"
	"testing"
)

func TestValue_zeroIsNull(t *testing.T) {
	var v Value
	if !v.IsNull() {
		t.Error("zero Value IsNull() = false, want true")
	}
	if !v.IsEmpty() {
		t.Error("zero Value IsEmpty() = false, want true")
	}
}

func TestValue_Equal_kindsNeverMix(t *testing.T) {
	if Number(1).Equal(String("1")) {
		t.Error("Number(1).Equal(String(\"1\")) = true, want false")
	}
	if !Number(1).Equal(Number(1)) {
		t.Error("Number(1).Equal(Number(1)) = false, want true")
	}
	if !List(String("a"), Number(2)).Equal(List(String("a"), Number(2))) {
		t.Error("equal lists compared unequal")
	}
	if List(String("a")).Equal(List(String("a"), String("b"))) {
		t.Error("lists of different length compared equal")
	}
}

func TestValue_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"empty string", String(""), true},
		{"string", String("x"), false},
		{"zero number", Number(0), false},
		{"false", Bool(false), false},
		{"empty list", List(), true},
		{"list", List(Number(1)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValue_JSON(t *testing.T) {
	var got struct {
		A Value `json:"a"`
		B Value `json:"b"`
		C Value `json:"c"`
		D Value `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a":1,"b":"x","c":true,"d":[1,"y"]}`), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if n, ok := got.A.Num(); !ok || n != 1 {
		t.Errorf("A = %v, want number 1", got.A)
	}
	if s, ok := got.B.Str(); !ok || s != "x" {
		t.Errorf("B = %v, want string x", got.B)
	}
	if b, ok := got.C.Boolean(); !ok || !b {
		t.Errorf("C = %v, want true", got.C)
	}
	if len(got.D.Items()) != 2 {
		t.Errorf("D items = %d, want 2", len(got.D.Items()))
	}

	out, err := json.Marshal(got.D)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `[1,"y"]` {
		t.Errorf("Marshal(D) = %s, want [1,\"y\"]", out)
	}
}

func TestValues_ExportAndMerge(t *testing.T) {
	vs := Values{"width": Number(36), "hasFrame": Bool(true)}
	merged := vs.Merge(Values{"width": Number(42)})

	if n, _ := vs.Get("width").Num(); n != 36 {
		t.Errorf("original width = %v, want 36 (Merge must not mutate)", n)
	}
	exported := merged.Export()
	if exported["width"] != 42.0 {
		t.Errorf("exported width = %v, want 42", exported["width"])
	}
	if !merged.Get("missing").IsNull() {
		t.Error("Get(missing) is not null")
	}
}
