package rvth

import (
	"encoding/binary"
	"testing"

	"github.com/spf13/afero"
)

func TestOpenStandaloneGCN(t *testing.T) {
	mem := afero.NewMemMapFs()
	const size = 128 * LBASize

	data := make([]byte, size)
	binary.BigEndian.PutUint32(data[offMagicGCN:], gcnMagic)
	if err := afero.WriteFile(mem, "game.gcm", data, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(mem, "game.gcm")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.IsHDD() {
		t.Error("small standalone image should not be classified as HDD")
	}
	if r.BankCount() != 1 {
		t.Fatalf("BankCount() = %d, want 1", r.BankCount())
	}

	b, err := r.Bank(0)
	if err != nil {
		t.Fatal(err)
	}
	if b.Type != BankTypeGCN {
		t.Errorf("Type = %v, want BankTypeGCN", b.Type)
	}
}

// buildHDDImage constructs a minimal NHCD-formatted in-memory image
// with bankCount banks: bank 0 is a small GCN image, every other bank
// is tagged with an invalid on-disk type so openHDD resolves it as
// BankTypeUnknown without needing to materialize a full-size bank's
// worth of backing bytes.
func buildHDDImage(t *testing.T, bankCount uint32) (afero.Fs, string) {
	t.Helper()

	bank0Start := NHCDBankStartLBA(0, bankCount)
	const bank0LenLBA = 128

	totalSize := int64(bank0Start+bank0LenLBA) * LBASize
	data := make([]byte, totalSize)

	binary.BigEndian.PutUint32(data[0:4], NHCDBankTableMagic)
	binary.BigEndian.PutUint32(data[4:8], bankCount)

	entryBase := int64(NHCDBankTableAddressLBA)*LBASize + NHCDBlockSize
	for i := uint32(0); i < bankCount; i++ {
		off := entryBase + int64(i)*NHCDBlockSize
		if i == 0 {
			binary.BigEndian.PutUint32(data[off:], uint32(nhcdBankTypeGCN))
			binary.BigEndian.PutUint32(data[off+12:], bank0Start)
			binary.BigEndian.PutUint32(data[off+16:], bank0LenLBA)
		} else {
			binary.BigEndian.PutUint32(data[off:], 99) // invalid -> BankTypeUnknown
		}
	}

	hdrOff := int64(bank0Start)*LBASize + offMagicGCN
	binary.BigEndian.PutUint32(data[hdrOff:], gcnMagic)

	mem := afero.NewMemMapFs()
	if err := afero.WriteFile(mem, "hdd.img", data, 0o644); err != nil {
		t.Fatal(err)
	}
	return mem, "hdd.img"
}

func TestOpenHDDBankTable(t *testing.T) {
	mem, path := buildHDDImage(t, 8)

	file, err := openRefFile(mem, path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	r, err := openHDD(file)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.IsHDD() {
		t.Error("openHDD result should report IsHDD() true")
	}
	if r.BankCount() != 8 {
		t.Fatalf("BankCount() = %d, want 8", r.BankCount())
	}

	b0, err := r.Bank(0)
	if err != nil {
		t.Fatal(err)
	}
	if b0.Type != BankTypeGCN {
		t.Errorf("bank 0 Type = %v, want BankTypeGCN", b0.Type)
	}

	b1, err := r.Bank(1)
	if err != nil {
		t.Fatal(err)
	}
	if b1.Type != BankTypeUnknown {
		t.Errorf("bank 1 Type = %v, want BankTypeUnknown", b1.Type)
	}
}

func TestDeleteAndUndeleteBank(t *testing.T) {
	mem, path := buildHDDImage(t, 8)

	file, err := openRefFile(mem, path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	r, err := openHDD(file)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.DeleteBank(0); err != nil {
		t.Fatal(err)
	}
	b, err := r.Bank(0)
	if err != nil {
		t.Fatal(err)
	}
	if !b.IsDeleted {
		t.Error("bank 0 should be marked deleted")
	}

	if err := r.DeleteBank(0); err == nil {
		t.Error("deleting an already-deleted bank should fail")
	}

	if err := r.UndeleteBank(0); err != nil {
		t.Fatal(err)
	}
	if b.IsDeleted {
		t.Error("bank 0 should no longer be marked deleted")
	}
}

func TestBankOutOfRange(t *testing.T) {
	mem, path := buildHDDImage(t, 8)

	file, err := openRefFile(mem, path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	r, err := openHDD(file)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Bank(8); !IsCode(err, ErrNoBanks) {
		t.Errorf("Bank(8) err = %v, want ErrNoBanks", err)
	}
}
