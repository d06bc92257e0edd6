package checksum

import "testing"

func TestSum_Deterministic(t *testing.T) {
	data := []byte("sensor payload")
	if Sum(data) != Sum(data) {
		t.Error("same input must produce the same checksum")
	}
	if Sum(data) == Sum([]byte("sensor payloae")) {
		t.Error("single byte change must change the checksum")
	}
}

func TestVerify(t *testing.T) {
	data := []byte{0x11, 0x22, 0x33, 0x44}
	sum := Sum(data)

	if !Verify(data, sum) {
		t.Error("checksum should verify against its own data")
	}

	data[0] ^= 0xFF
	if Verify(data, sum) {
		t.Error("corrupted data must not verify")
	}
}

func TestUpdate_Incremental(t *testing.T) {
	whole := []byte("abcdefghij")

	incremental := uint32(0)
	incremental = Update(incremental, whole[:4])
	incremental = Update(incremental, whole[4:])

	if incremental != Sum(whole) {
		t.Errorf("incremental checksum %08x != whole checksum %08x", incremental, Sum(whole))
	}
}

func TestFields(t *testing.T) {
	a := Fields(1, 2, 3)
	b := Fields(1, 2, 3)
	if a != b {
		t.Error("field checksum must be deterministic")
	}
	if a == Fields(1, 2, 4) {
		t.Error("changed field must change the checksum")
	}
	if Fields(1, 2) == Fields(2, 1) {
		t.Error("field order must matter")
	}
}
