package types

import "testing"

func TestRecordKindSize(t *testing.T) {
	if KindTSD.Size() != TSDRecordSize {
		t.Errorf("KindTSD size = %d", KindTSD.Size())
	}
	if KindEvent.Size() != EventRecordSize {
		t.Errorf("KindEvent size = %d", KindEvent.Size())
	}
}

func TestParseSourceType(t *testing.T) {
	for _, src := range AllSourceTypes() {
		got, err := ParseSourceType(src.String())
		if err != nil {
			t.Errorf("ParseSourceType(%q): %v", src.String(), err)
		}
		if got != src {
			t.Errorf("ParseSourceType(%q) = %v", src.String(), got)
		}
	}
	if _, err := ParseSourceType("gps"); err == nil {
		t.Error("unknown source must fail to parse")
	}
}

func TestSensorKeyString(t *testing.T) {
	k := SensorKey{ID: 0xAB, Source: SourceCAN}
	if got := k.String(); got != "can/000000ab" {
		t.Errorf("key string = %q", got)
	}
}

func TestSensorKeysAreIndependentPerSource(t *testing.T) {
	a := SensorKey{ID: 1, Source: SourceHost}
	b := SensorKey{ID: 1, Source: SourceApp}
	if a == b {
		t.Error("same id under different sources must be distinct keys")
	}
}

func TestModeString(t *testing.T) {
	cases := map[Mode]string{
		ModeUninitialized: "uninitialized",
		ModeRAMOnly:       "ram_only",
		ModeDiskActive:    "disk_active",
		ModeRecovering:    "recovering",
	}
	for mode, want := range cases {
		if mode.String() != want {
			t.Errorf("%d.String() = %q, want %q", mode, mode.String(), want)
		}
	}
}
