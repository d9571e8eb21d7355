package xv6fs

import "testing"

func TestDinode_EncodeDecodeRoundTrips(t *testing.T) {
	d := Dinode{
		Type:  TypeFile,
		Major: 3,
		Minor: 7,
		NLink: 2,
		Size:  12345,
	}
	d.Addrs[0] = 99
	d.Addrs[NDIRECT] = 1000

	raw := make([]byte, DinodeSize)
	if err := encodeDinode(raw, d); err != nil {
		t.Fatalf("encodeDinode: %v", err)
	}

	got := decodeDinode(raw)
	if got != d {
		t.Fatalf("decodeDinode(encodeDinode(d)) = %+v, want %+v", got, d)
	}
}

func TestDinode_IsFree(t *testing.T) {
	var d Dinode
	if !d.IsFree() {
		t.Fatal("zero-value Dinode should report IsFree")
	}
	d.Type = TypeDir
	if d.IsFree() || !d.IsDir() {
		t.Fatal("Type = TypeDir should classify as a directory, not free")
	}
}
