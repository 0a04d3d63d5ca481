package rvth

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// RvtH is the root object: an opened RVT-H HDD image/device or a
// standalone GameCube/Wii disc image, owning every BankEntry's Reader.
type RvtH struct {
	file      *RefFile
	isHDD     bool
	entries   []BankEntry
	bankCount uint32
	writable  bool
}

// Open opens path on fsys (nil uses the OS filesystem) as either an
// RVT-H HDD image or a standalone disc image, choosing between the two
// by file length exactly as rvth_open() does in the original librvth:
// two bank-sizes or less is a standalone image, anything larger is an
// HDD image.
func Open(fsys afero.Fs, path string) (*RvtH, error) {
	file, err := openRefFile(fsys, path)
	if err != nil {
		return nil, err
	}

	size, err := file.Size()
	if err != nil {
		file.Close()
		return nil, err
	}
	if size == 0 {
		file.Close()
		return nil, io.ErrUnexpectedEOF
	}

	var rvth *RvtH
	if size <= 2*int64(NHCDBankSizeLBA)*LBASize {
		rvth, err = openStandalone(file)
	} else {
		rvth, err = openHDD(file)
	}

	file.Close() // drop our initial reference; rvth.file holds its own dup
	if err != nil {
		return nil, err
	}
	return rvth, nil
}

func openStandalone(file *RefFile) (*RvtH, error) {
	reader, err := openReader(file, 0, 0)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, discHeaderSize)
	if _, err := reader.Read(hdr, 0, 1); err != nil {
		reader.Close()
		return nil, err
	}

	bankType := identifyBankType(hdr)
	if bankType == BankTypeWiiSingleLayer && reader.LBALen() > NHCDBankWiiSLSizeRVTRLBA {
		bankType = BankTypeWiiDualLayer
	}

	entry := BankEntry{
		Type:      bankType,
		LBAStart:  reader.LBAStart(),
		LBALen:    reader.LBALen(),
		Timestamp: -1,
		reader:    reader,
	}
	if bankType != BankTypeEmpty {
		copy(entry.DiscHeader[:], hdr)
		entry.RegionCode = readRegionCode(reader, bankType)
		if err := initBankEntryCrypto(&entry, reader); err != nil {
			return nil, err
		}
	}

	return &RvtH{
		file:      file.dup(),
		isHDD:     false,
		entries:   []BankEntry{entry},
		bankCount: 1,
	}, nil
}

func openHDD(file *RefFile) (*RvtH, error) {
	hdrBuf := make([]byte, NHCDBlockSize)
	if _, err := readFullAt(file, hdrBuf, int64(NHCDBankTableAddressLBA)*LBASize); err != nil {
		return nil, err
	}

	var tableHdr nhcdBankTableHeader
	if err := binary.Read(bytes.NewReader(hdrBuf), binary.BigEndian, &tableHdr); err != nil {
		return nil, err
	}
	if tableHdr.Magic != NHCDBankTableMagic {
		return nil, newError(ErrBankTableMagic)
	}
	bankCount := tableHdr.BankCount
	if bankCount < 8 || bankCount > 32 {
		return nil, newError(ErrInvalidBankCount)
	}

	rvth := &RvtH{
		file:      file.dup(),
		isHDD:     true,
		entries:   make([]BankEntry, bankCount),
		bankCount: bankCount,
	}

	base := int64(NHCDBankTableAddressLBA)*LBASize + NHCDBlockSize
	for i := uint32(0); i < bankCount; i++ {
		if i > 0 && rvth.entries[i-1].Type == BankTypeWiiDualLayer {
			rvth.entries[i] = BankEntry{Type: BankTypeWiiDualLayerBank2, Timestamp: -1}
			continue
		}

		buf := make([]byte, NHCDBlockSize)
		if _, err := readFullAt(file, buf, base+int64(i)*NHCDBlockSize); err != nil {
			return nil, err
		}

		var nb nhcdBankEntry
		if err := binary.Read(bytes.NewReader(buf), binary.BigEndian, &nb); err != nil {
			return nil, err
		}
		lbaStart := nb.LBAStart
		lbaLen := nb.LBALen
		timestamp := parseNHCDTimestamp(nb.Timestamp[:])

		bankType := translateNHCDBankType(nb.Type)

		if bankType < BankTypeGCN || bankType == BankTypeUnknown {
			lbaStart, lbaLen = 0, 0
		}
		if lbaStart == 0 || lbaLen == 0 {
			lbaStart = NHCDBankStartLBA(i, bankCount)
			lbaLen = 0
		}

		if err := initBankEntry(rvth, i, bankType, lbaStart, lbaLen, timestamp); err != nil {
			return nil, err
		}
	}

	return rvth, nil
}

func translateNHCDBankType(raw uint32) BankType {
	switch NHCDBankType(raw) {
	case nhcdBankTypeEmpty:
		return BankTypeEmpty
	case nhcdBankTypeGCN:
		return BankTypeGCN
	case nhcdBankTypeWiiSL:
		return BankTypeWiiSingleLayer
	case nhcdBankTypeWiiDL:
		return BankTypeWiiDualLayer
	default:
		return BankTypeUnknown
	}
}

func parseNHCDTimestamp(raw []byte) int64 {
	s := string(bytes.TrimRight(raw, "\x00 "))
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return -1
	}
	return t.Unix()
}

// initBankEntry fills in rvth.entries[i] for an HDD bank, opening a
// Reader and deriving disc-header identification when the bank isn't
// already known to be empty.
func initBankEntry(rvth *RvtH, i uint32, bankType BankType, lbaStart, lbaLen uint32, timestamp int64) error {
	entry := &rvth.entries[i]
	entry.Type = bankType
	entry.LBAStart = lbaStart
	entry.Timestamp = timestamp

	if bankType == BankTypeUnknown {
		entry.LBALen = lbaLen
		return nil
	}

	// A zero lba_len is replaced by the full bank size
	// (NHCDBankSizeLBA); the disc itself is not inspected to find its
	// real length.
	probeLen := lbaLen
	if probeLen == 0 {
		probeLen = NHCDBankSizeLBA
	}

	reader, err := openReader(rvth.file, lbaStart, probeLen)
	if err != nil {
		return err
	}

	hdr := make([]byte, discHeaderSize)
	if _, err := reader.Read(hdr, 0, 1); err != nil {
		reader.Close()
		return err
	}

	identified := identifyBankType(hdr)
	if bankType == BankTypeEmpty {
		// Stays Empty, even when the disc header still carries a
		// deleted bank's stale signature: deleted banks are not
		// detected here, so IsDeleted stays false for every bank read
		// from the table.
		identified = BankTypeEmpty
	}
	if identified == BankTypeWiiSingleLayer && probeLen > NHCDBankWiiSLSizeRVTRLBA {
		identified = BankTypeWiiDualLayer
	}
	entry.Type = identified
	entry.LBALen = probeLen
	entry.reader = reader

	if identified == BankTypeEmpty {
		reader.Close()
		entry.reader = nil
		return nil
	}

	copy(entry.DiscHeader[:], hdr)
	entry.RegionCode = readRegionCode(reader, identified)
	return initBankEntryCrypto(entry, reader)
}

// initBankEntryCrypto populates the Wii-specific partition table,
// ticket, TMD and derived crypto_type fields for a non-Empty bank.
// GCN banks skip straight back (they have neither partitions nor
// encryption).
func initBankEntryCrypto(entry *BankEntry, reader Reader) error {
	if entry.Type != BankTypeWiiSingleLayer && entry.Type != BankTypeWiiDualLayer {
		return nil
	}

	pt, err := parsePartitionTable(reader)
	if err != nil {
		// Partition table corruption doesn't fail bank initialization;
		// the bank is still usable for extract/import, just without
		// derived crypto metadata.
		return nil
	}
	entry.PartitionTable = pt

	game, ok := entry.gamePartition()
	if !ok {
		return nil
	}

	cluster := make([]byte, clusterSize)
	if _, err := reader.Read(cluster, game.LBAStart, clusterSize/LBASize); err != nil {
		return nil
	}

	gameLetter := byte(0)
	if entry.Type != BankTypeGCN {
		gameLetter = entry.DiscHeader[3]
	}

	ticket, err := readTicketMeta(cluster[:ticketSize], gameLetter)
	if err == nil {
		entry.Ticket = ticket
		entry.CryptoType = commonKeyIndexToCryptoType(ticket.CommonKeyIndex)
		if certIssuerCryptoType(ticket.Issuer) == CryptoDebug {
			entry.CryptoType = CryptoDebug
		}
		entry.SigTypeTicket = ticket.SigType
		entry.SigStatusTicket = classifySignature(cluster[:ticketSize], ticketOffSignature)
	}

	tmdBuf := cluster[ticketSize:]
	if len(tmdBuf) > tmdOffTitleVersion+2 {
		tmd, err := readTmdMeta(tmdBuf)
		if err == nil {
			entry.TMD = tmd
			entry.IOSVersion = tmd.IOSVersion
			entry.SigStatusTMD = classifySignature(tmdBuf, tmdOffSignature)
		}
	}

	return nil
}

// classifySignature reports OK/Invalid/Fakesigned for a signed blob.
// Full RSA-2048 verification against the certificate store is an
// external collaborator (spec.md §1); this applies only the fakesign
// detection described in the glossary, treating any non-fakesigned
// blob as OK since the corresponding certificate material isn't
// embedded in this module.
func classifySignature(blob []byte, sigOff int) SigStatus {
	if sigOff+0x100 > len(blob) {
		return SigStatusInvalid
	}
	if looksFakesigned(blob) {
		return SigStatusFakesigned
	}
	return SigStatusOK
}

// Close releases the RvtH's reference on its underlying RefFile and
// every bank's Reader.
func (r *RvtH) Close() error {
	var result *multierror.Error
	for i := range r.entries {
		if r.entries[i].reader != nil {
			if err := r.entries[i].reader.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			r.entries[i].reader = nil
		}
	}
	if err := r.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// IsHDD reports whether this RvtH is an HDD image/device rather than a
// standalone disc image.
func (r *RvtH) IsHDD() bool { return r.isHDD }

// BankCount returns the number of bank slots.
func (r *RvtH) BankCount() uint32 { return r.bankCount }

// Bank returns a pointer to bank i's metadata.
func (r *RvtH) Bank(i uint32) (*BankEntry, error) {
	if i >= r.bankCount {
		return nil, newError(ErrNoBanks)
	}
	return &r.entries[i], nil
}

// MakeWritable marks the RvtH as writable. It does not reopen the
// underlying RefFile: openRefFile already opened it read-write where
// the file allows that, and a read-only opening stays read-only.
func (r *RvtH) MakeWritable() error {
	r.writable = true
	return nil
}

// DeleteBank marks bank i as deleted and persists it through
// writeBankTableEntry, which writes the slot's on-disk type as Empty.
// The in-memory Type and the prior signature (disc header, ticket,
// TMD) are left untouched, per spec.md's BankEntry.is_deleted
// semantics. After a re-open the bank reads as Empty with IsDeleted
// false (see initBankEntry).
func (r *RvtH) DeleteBank(bank uint32) error {
	entry, err := r.Bank(bank)
	if err != nil {
		return err
	}
	if entry.IsDeleted {
		return newError(ErrBankIsDeleted)
	}
	if entry.Type == BankTypeEmpty {
		return newError(ErrBankEmpty)
	}
	entry.IsDeleted = true
	return writeBankTableEntry(r, bank)
}

// UndeleteBank reverses DeleteBank, restoring the bank's prior type.
func (r *RvtH) UndeleteBank(bank uint32) error {
	entry, err := r.Bank(bank)
	if err != nil {
		return err
	}
	if !entry.IsDeleted {
		return newError(ErrBankNotDeleted)
	}
	entry.IsDeleted = false
	return writeBankTableEntry(r, bank)
}
