package rvth

// On-disk bank table layout constants. These are byte-for-byte
// compatible with the RVT-H Reader firmware, per spec.md §6 — they
// must never change. Grounded on nhcd_structs.h as referenced by
// rvth.c's rvth_open_hdd().
const (
	// NHCDBankTableMagic is the 4-byte magic identifying the bank
	// table header ("NHCD").
	NHCDBankTableMagic uint32 = 0x4E484344

	// NHCDBankTableAddressLBA is the fixed LBA of the bank table
	// header.
	NHCDBankTableAddressLBA uint32 = 0

	// NHCDBlockSize is the size, in bytes, of the bank table header
	// and each bank table entry.
	NHCDBlockSize = 512

	// NHCDBankSizeLBA is the size of a single bank, in LBAs (~4 GiB).
	NHCDBankSizeLBA uint32 = 0x40000

	// NHCDBankWiiSLSizeRVTRLBA is the largest single-layer Wii image
	// size; a bank whose reader window exceeds this is treated as the
	// first half of a Dual-Layer image.
	NHCDBankWiiSLSizeRVTRLBA uint32 = 0x2E8E0

	// NHCDExtBankTable1SizeLBA is the maximum size of bank 0 on an
	// extended (>8 bank) bank table.
	NHCDExtBankTable1SizeLBA uint32 = 0x3FB8A

	// sdkHeaderSizeLBA is the size, in LBAs, of the NDEV SDK preamble.
	sdkHeaderSizeLBA uint32 = 64 // 32768 / 512
	sdkHeaderSize           = 32768
)

// NHCDBankType is the on-disk bank type field, distinct from
// BankType: these are the raw values stored in NHCD_BankEntry.type.
type NHCDBankType uint32

const (
	nhcdBankTypeEmpty NHCDBankType = 0
	nhcdBankTypeGCN   NHCDBankType = 1
	nhcdBankTypeWiiSL NHCDBankType = 2
	nhcdBankTypeWiiDL NHCDBankType = 3
)

// nhcdBankTableHeader mirrors NHCD_BankTable_Header: a 512-byte
// header at NHCDBankTableAddressLBA.
type nhcdBankTableHeader struct {
	Magic     uint32
	BankCount uint32
	Reserved  [504]byte
}

// nhcdBankEntry mirrors NHCD_BankEntry: one 512-byte slot per bank.
// Field offsets are load-bearing and must match writeBankTableEntry's
// layout exactly: Region at byte 8, LBAStart at byte 12, LBALen at
// byte 16.
type nhcdBankEntry struct {
	Type      uint32
	Reserved1 uint32
	Region    uint32
	LBAStart  uint32
	LBALen    uint32
	Timestamp [14]byte // ASCII "YYYYMMDDhhmmss"
	Reserved2 [478]byte
}

// NHCDBankStartLBA computes the fixed data-area start LBA for bank i
// of a table with bankCount total banks, per spec.md §3's
// NHCD_BANK_START_LBA. Bank 0 starts immediately after the bank
// table (its header block plus 32 entry slots, whatever bankCount
// is). Bank 0 of an extended (>8-bank) table is smaller
// (NHCDExtBankTable1SizeLBA); all other banks are full-size.
func NHCDBankStartLBA(i, bankCount uint32) uint32 {
	const tableLBAs = 1 + 32 // header + max 32 entries, fixed regardless of bankCount
	base := NHCDBankTableAddressLBA + tableLBAs

	if bankCount <= 8 {
		return base + i*NHCDBankSizeLBA
	}

	// Extended bank table: bank 0 is undersized.
	if i == 0 {
		return base
	}
	return base + NHCDExtBankTable1SizeLBA + (i-1)*NHCDBankSizeLBA
}
