package rvth

import (
	"bytes"
	"encoding/binary"
	"time"
)

// writeBankTableEntry rewrites exactly the 512-byte bank table entry
// for bank, preserving every other field and every other slot, per
// spec.md §6: "Core rewrites exactly the one 512-byte entry for the
// affected slot, preserving all other fields." A no-op on standalone
// (non-HDD) images, which have no on-disk bank table.
func writeBankTableEntry(r *RvtH, bank uint32) error {
	if !r.isHDD {
		return nil
	}

	entry := &r.entries[bank]

	ts := entry.Timestamp
	if ts < 0 {
		ts = time.Now().Unix()
	}

	off := int64(NHCDBankTableAddressLBA)*LBASize + NHCDBlockSize + int64(bank)*NHCDBlockSize

	raw := make([]byte, NHCDBlockSize)
	if _, err := readFullAt(r.file, raw, off); err != nil {
		return err
	}
	var nb nhcdBankEntry
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &nb); err != nil {
		return err
	}

	nb.Type = nhcdRawBankType(entry)
	nb.Region = entry.RegionCode
	nb.LBAStart = entry.LBAStart
	nb.LBALen = entry.LBALen
	copy(nb.Timestamp[:], formatNHCDTimestamp(ts))

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, &nb); err != nil {
		return err
	}

	if _, err := r.file.WriteAt(buf.Bytes(), off); err != nil {
		return err
	}
	return r.file.Flush()
}

// nhcdRawBankType maps a BankEntry back to its on-disk type field. A
// deleted bank is always written back as Empty; the prior signature
// that lets the firmware still "see" the deleted content is left
// physically in place (spec.md I3), only the table slot changes.
func nhcdRawBankType(entry *BankEntry) uint32 {
	if entry.IsDeleted {
		return uint32(nhcdBankTypeEmpty)
	}
	switch entry.Type {
	case BankTypeGCN:
		return uint32(nhcdBankTypeGCN)
	case BankTypeWiiSingleLayer:
		return uint32(nhcdBankTypeWiiSL)
	case BankTypeWiiDualLayer:
		return uint32(nhcdBankTypeWiiDL)
	default:
		return uint32(nhcdBankTypeEmpty)
	}
}

func formatNHCDTimestamp(unix int64) []byte {
	t := time.Unix(unix, 0).UTC()
	return []byte(t.Format("20060102150405"))
}
