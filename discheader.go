package rvth

import "encoding/binary"

// Disc magic numbers, read big-endian from the start of the 512-byte
// disc header (LBA 0 of a bank/standalone image).
const (
	wiiMagic uint32 = 0x5D1C9EA3
	gcnMagic uint32 = 0xC2339F3D
)

// discHeaderOffsets within the 512-byte disc header.
const (
	offMagicGCN    = 0x1c
	offMagicWii    = 0x18
	discHeaderSize = 512
)

// Region code offsets, in bytes from the start of the disc image. Both
// fall outside the 512-byte sector-0 header: the GCN region code lives
// in bi2.bin (just past the 0x440-byte boot.bin), the Wii one in the
// region setting block at 0x4E000. Each needs its own sector read.
const (
	offRegionCodeGCN uint32 = 0x458
	offRegionCodeWii uint32 = 0x4E000
)

// discHeaderMagics reports whether the buffer (at least discHeaderSize
// bytes) carries the Wii or GCN magic at their respective offsets.
func discHeaderMagics(hdr []byte) (isWii, isGCN bool) {
	if len(hdr) < discHeaderSize {
		return false, false
	}
	magicWii := binary.BigEndian.Uint32(hdr[offMagicWii:])
	magicGCN := binary.BigEndian.Uint32(hdr[offMagicGCN:])
	return magicWii == wiiMagic, magicGCN == gcnMagic
}

// identifyBankType applies spec.md §4.4's identification rules to a
// 512-byte disc header, returning the initial BankType before any Dual-Layer upgrade is known to the
// caller (callers compare lbaLen against NHCDBankWiiSLSizeRVTRLBA
// themselves, since that decision also depends on context the header
// alone doesn't carry — see rvth_open_gcm() and rvth_open_hdd()).
func identifyBankType(hdr []byte) BankType {
	isWii, isGCN := discHeaderMagics(hdr)
	switch {
	case isWii:
		return BankTypeWiiSingleLayer
	case isGCN:
		return BankTypeGCN
	default:
		return BankTypeEmpty
	}
}

// readRegionCode reads the big-endian 4-byte region code field for
// bankType from reader, issuing a fresh sector read at the field's
// actual offset rather than reusing the 512-byte sector-0 header (the
// field lives well past sector 0 for both disc types). A short read
// (a truncated test fixture, or a type with no region field) yields 0
// rather than failing bank identification over missing metadata.
func readRegionCode(reader Reader, bankType BankType) uint32 {
	var off uint32
	switch bankType {
	case BankTypeGCN:
		off = offRegionCodeGCN
	case BankTypeWiiSingleLayer, BankTypeWiiDualLayer:
		off = offRegionCodeWii
	default:
		return 0
	}

	lba := off / LBASize
	within := off % LBASize
	if within+4 > LBASize {
		return 0
	}

	buf := make([]byte, LBASize)
	if _, err := reader.Read(buf, lba, 1); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(buf[within:])
}
