package model

import "testing"

func TestZerosLikeAndAdd(t *testing.T) {
	d := Document{
		{{1, 2}, {3, 4}},
		{{5, 6}},
	}
	acc := d.ZerosLike()
	if acc.Tokens() != 3 {
		t.Fatalf("Tokens() = %d, want 3", acc.Tokens())
	}
	acc.AddInPlace(d)
	acc.AddInPlace(d)
	if acc[0][1][1] != 8 || acc[1][0][0] != 10 {
		t.Errorf("AddInPlace sums = %v, want doubled input", acc)
	}
	if d[0][0][0] != 1 {
		t.Error("ZerosLike must not alias the source")
	}
}
