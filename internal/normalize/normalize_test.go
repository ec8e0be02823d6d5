package normalize

import (
	"reflect"
	"testing"
)

func TestID(t *testing.T) {
	in := "  64b7f0c2a1  "
	want := "64b7f0c2a1"
	got := ID(in)
	if got != want {
		t.Fatalf("normalize.ID(%q) = %q, want %q", in, got, want)
	}
}

func TestPair(t *testing.T) {
	if got := Pair(" bob", "alice "); got != [2]string{"alice", "bob"} {
		t.Fatalf("Pair sorted incorrectly: %v", got)
	}
	if Pair("a", "b") != Pair("b", "a") {
		t.Fatal("Pair must not depend on argument order")
	}
}

func TestIDs(t *testing.T) {
	got := IDs([]string{"carol", " alice", "", "carol", "bob "})
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
}
