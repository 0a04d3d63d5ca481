package rvth

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
)

// Wii partition table and ticket/TMD layout offsets. Unlike the
// teacher's WUD partition table (a flat name->offset map with a
// SHA-1-checked TOC, see wud.go's newPartitionTable), a Wii disc's
// partition table lives at a fixed LBA and is a two-level structure:
// up to 4 partition-table groups, each naming a count and an offset to
// its own array of (offset, type) entries. The read technique —
// encoding/binary structs plus a running SHA-1 where the on-disk
// format carries one — is reused directly from wud.go.
const (
	wiiPartitionTableLBA  = 0x40000 / LBASize
	wiiPartitionGroups    = 4
	maxPartitionsPerGroup = 32

	// Offsets within a partition's first cluster (post decryption for
	// an encrypted bank, or direct for an unencrypted devkit bank).
	ticketSize            = 0x2A4
	ticketOffCommonKeyIdx = 0x1F1
	ticketOffEncTitleKey  = 0x1BF
	ticketOffTitleID      = 0x1DC
	ticketOffIssuer       = 0x140
	ticketOffSigType      = 0x000
	ticketOffSignature    = 0x004

	tmdOffIssuer       = 0x140
	tmdOffTitleID      = 0x18C
	tmdOffTitleVersion = 0x1DC
	tmdOffIOSVersion   = 0x184 // low byte of SystemVersion's title ID
	tmdOffSigType      = 0x000
	tmdOffSignature    = 0x004

	// tmdOffContentHash is the SHA-1 field of the TMD's first content
	// record (content index 0 — the only content this module models,
	// the game partition's own data), immediately following the fixed
	// 0x1E4-byte TMD header and the 16-byte content ID/index/type/size
	// fields that precede the hash within that record.
	tmdOffContentHash = 0x1F4
)

// parsePartitionTable reads the Wii partition table through r, whose
// window must be at least LBA wiiPartitionTableLBA+1 long (normally
// the full disc image is available through the Reader). It returns every
// partition entry across all 4 groups.
func parsePartitionTable(r Reader) ([]PartitionEntry, error) {
	groupHdr := make([]byte, LBASize)
	if _, err := r.Read(groupHdr, wiiPartitionTableLBA, 1); err != nil {
		return nil, err
	}

	type group struct {
		Count  uint32
		Offset uint32 // in 4-byte units
	}
	groups := make([]group, wiiPartitionGroups)
	br := bytes.NewReader(groupHdr)
	if err := binary.Read(br, binary.BigEndian, &groups); err != nil {
		return nil, err
	}

	var entries []PartitionEntry
	for _, g := range groups {
		if g.Count == 0 || g.Count > maxPartitionsPerGroup {
			continue
		}

		byteOff := uint64(g.Offset) * 4
		lba := byteOff / LBASize
		within := byteOff % LBASize
		nLBAs := (within + uint64(g.Count)*8 + LBASize - 1) / LBASize
		buf := make([]byte, nLBAs*LBASize)
		if _, err := r.Read(buf, uint32(lba), uint32(nLBAs)); err != nil {
			return nil, newError(ErrPartitionTableCorrupted)
		}

		type entry struct {
			Offset uint32
			Type   uint32
		}
		pe := make([]entry, g.Count)
		ebr := bytes.NewReader(buf[within:])
		if err := binary.Read(ebr, binary.BigEndian, &pe); err != nil {
			return nil, newError(ErrPartitionTableCorrupted)
		}

		for _, e := range pe {
			entries = append(entries, PartitionEntry{
				LBAStart: uint32((uint64(e.Offset) * 4) / LBASize),
				Type:     e.Type,
			})
		}
	}

	return entries, nil
}

// issuerString trims the trailing NUL padding from a fixed-size
// big-endian issuer field, the same way the teacher trims partition
// names in wud.go's newPartitionTable.
func issuerString(raw []byte) string {
	return string(bytes.TrimRight(raw, "\x00"))
}

// certIssuerCryptoType maps a ticket issuer string to the common-key
// family it was signed under, grounded on RVL_CERT_ISSUER_* naming in
// spec.md §4.4. CA00000001 is the retail chain, CA00000003 the debug
// chain; targetIssuer (recrypt.go) writes issuer strings under the
// same two CA numbers when re-signing, so the two must stay in sync.
func certIssuerCryptoType(issuer string) CryptoType {
	switch {
	case bytes.HasPrefix([]byte(issuer), []byte("Root-CA00000001-XS")):
		return CryptoRetail
	case bytes.HasPrefix([]byte(issuer), []byte("Root-CA00000003-XS")):
		return CryptoDebug
	default:
		return CryptoUnknown
	}
}

// readTicketMeta parses the ticket structure from a partition's first
// cluster (already decrypted/plain bytes, ticketSize long starting at
// the partition's base), deriving the common-key index and the
// region-letter heuristic override from spec.md Design Note (c).
func readTicketMeta(buf []byte, titleIDGameLetter byte) (TicketMeta, error) {
	if len(buf) < ticketSize {
		return TicketMeta{}, errors.New("rvth: ticket buffer too short")
	}

	sigType := binary.BigEndian.Uint32(buf[ticketOffSigType:])
	issuer := issuerString(buf[ticketOffIssuer : ticketOffIssuer+0x40])
	commonKeyIdx := buf[ticketOffCommonKeyIdx]
	titleID := binary.BigEndian.Uint64(buf[ticketOffTitleID:])

	var encKey [16]byte
	copy(encKey[:], buf[ticketOffEncTitleKey:ticketOffEncTitleKey+16])

	st := SigTypeRetail
	if certIssuerCryptoType(issuer) == CryptoDebug {
		st = SigTypeDebug
	}
	if sigType == 0 {
		st = SigTypeUnknown
	}

	// common-key-index mismatch heuristic: buggy release tooling
	// sometimes ships Korean WADs signed as index 0 (Retail). If the
	// game ID's region letter is 'K' but the index says Retail,
	// override to Korean and note it — see spec.md §9 Open Question (c).
	idx := commonKeyIdx
	if idx == 0 && titleIDGameLetter == 'K' {
		idx = 1
		logger.Info("common-key index overridden to Korean",
			"titleID", titleID, "gameLetter", string(titleIDGameLetter))
	}

	return TicketMeta{
		Issuer:            issuer,
		SigType:           st,
		CommonKeyIndex:    idx,
		TitleID:           titleID,
		EncryptedTitleKey: encKey,
	}, nil
}

// readTmdMeta parses the TMD structure from a partition's first
// cluster at the TMD's byte offset (reported by the partition header;
// callers locate it before calling this).
func readTmdMeta(buf []byte) (TmdMeta, error) {
	if len(buf) < tmdOffTitleVersion+2 {
		return TmdMeta{}, errors.New("rvth: tmd buffer too short")
	}

	issuer := issuerString(buf[tmdOffIssuer : tmdOffIssuer+0x40])
	titleID := binary.BigEndian.Uint64(buf[tmdOffTitleID:])
	titleVersion := binary.BigEndian.Uint16(buf[tmdOffTitleVersion:])
	iosTitleID := binary.BigEndian.Uint64(buf[tmdOffIOSVersion:])

	return TmdMeta{
		Issuer:       issuer,
		TitleID:      titleID,
		TitleVersion: titleVersion,
		IOSVersion:   uint8(iosTitleID & 0xff),
	}, nil
}

// commonKeyIndexToCryptoType derives crypto_type from the ticket's
// common-key index, per spec.md §4.4: "0->Retail, 1->Korean, else
// heuristic by title-ID region letter" is already folded into the
// index by readTicketMeta's override, so this is a direct table.
func commonKeyIndexToCryptoType(idx uint8) CryptoType {
	switch idx {
	case 0:
		return CryptoRetail
	case 1:
		return CryptoKorean
	default:
		return CryptoDebug
	}
}

// looksFakesigned computes the fakesign check described in spec.md's
// glossary: a signature "verifies" under the buggy firmware check
// whenever the SHA-1 of the signed blob has a leading zero byte, even
// without holding the private key. Real RSA-2048 verification against
// the embedded certificate is a collaborator (out of core scope, per
// spec.md §1); this function only implements the fakesign detection
// the recrypt pipeline and BankEntry initialization both need.
func looksFakesigned(signedBlob []byte) bool {
	sum := sha1.Sum(signedBlob)
	return sum[0] == 0x00
}
