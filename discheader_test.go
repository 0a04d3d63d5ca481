package rvth

import (
	"encoding/binary"
	"testing"
)

func TestIdentifyBankType(t *testing.T) {
	tests := []struct {
		name string
		hdr  func() []byte
		want BankType
	}{
		{
			name: "wii magic",
			hdr: func() []byte {
				h := make([]byte, discHeaderSize)
				binary.BigEndian.PutUint32(h[offMagicWii:], wiiMagic)
				return h
			},
			want: BankTypeWiiSingleLayer,
		},
		{
			name: "gcn magic",
			hdr: func() []byte {
				h := make([]byte, discHeaderSize)
				binary.BigEndian.PutUint32(h[offMagicGCN:], gcnMagic)
				return h
			},
			want: BankTypeGCN,
		},
		{
			name: "no magic",
			hdr:  func() []byte { return make([]byte, discHeaderSize) },
			want: BankTypeEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := identifyBankType(tt.hdr()); got != tt.want {
				t.Errorf("identifyBankType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegionCode(t *testing.T) {
	lba := offRegionCodeGCN / LBASize
	within := offRegionCodeGCN % LBASize

	rf := newMemRefFile(t, "disc.img", int64(lba+1)*int64(LBASize))
	defer rf.Close()

	r, err := newPlainReader(rf, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	buf := make([]byte, LBASize)
	binary.BigEndian.PutUint32(buf[within:], 0x00000001)
	if _, err := r.Write(buf, lba, 1); err != nil {
		t.Fatal(err)
	}

	if got := readRegionCode(r, BankTypeGCN); got != 1 {
		t.Errorf("readRegionCode() = %d, want 1", got)
	}
}
