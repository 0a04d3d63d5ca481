package rvth

// BankType classifies a bank's contents, per spec.md §3.
type BankType int

const (
	BankTypeEmpty BankType = iota
	BankTypeGCN
	BankTypeWiiSingleLayer
	BankTypeWiiDualLayer
	BankTypeWiiDualLayerBank2
	BankTypeUnknown
)

// CryptoType is the Wii content-encryption variant a bank's partitions
// use, derived from ticket issuer and common-key index.
type CryptoType int

const (
	CryptoUnknown CryptoType = iota - 1
	CryptoNone
	CryptoDebug
	CryptoRetail
	CryptoKorean
)

// SigType is the ticket signing variant.
type SigType int

const (
	SigTypeUnknown SigType = iota
	SigTypeDebug
	SigTypeRetail
)

// SigStatus is the verification outcome of a ticket or TMD signature.
type SigStatus int

const (
	SigStatusOK SigStatus = iota
	SigStatusInvalid
	SigStatusFakesigned
)

// TicketMeta holds the ticket fields the engine cares about: issuer,
// signature status and the derived title key's common-key index.
// Grounded on the teacher's embedded ticket-shaped struct reads in
// wud.go (offsets differ: Wii tickets use the format documented in
// partition.go).
type TicketMeta struct {
	Issuer            string
	SigType           SigType
	SigStatus         SigStatus
	CommonKeyIndex    uint8
	TitleID           uint64
	EncryptedTitleKey [16]byte
}

// TmdMeta holds the TMD fields the engine cares about.
type TmdMeta struct {
	Issuer       string
	SigStatus    SigStatus
	TitleID      uint64
	TitleVersion uint16
	IOSVersion   uint8
}

// PartitionEntry is one entry of a Wii volume's partition table.
type PartitionEntry struct {
	LBAStart uint32
	LBALen   uint32 // 0 as returned by parsePartitionTable, which does not read partition headers
	Type     uint32 // 0 = game, 1 = update, 2 = channel installer, ...
}

// BankEntry is the per-bank metadata described in spec.md §3.
type BankEntry struct {
	Type      BankType
	IsDeleted bool

	LBAStart uint32
	LBALen   uint32

	CryptoType      CryptoType
	SigTypeTicket   SigType
	SigStatusTicket SigStatus
	SigStatusTMD    SigStatus
	RegionCode      uint32
	IOSVersion      uint8
	Timestamp       int64 // -1 == unknown

	DiscHeader [512]byte

	Ticket TicketMeta
	TMD    TmdMeta

	PartitionTable []PartitionEntry // nil until lazily populated

	reader Reader // nil for pure-metadata entries
}

// gamePartition returns the first partition table entry of type 0
// ("game"), or false if none is present — grounded on rvth_ptbl_find_game().
func (b *BankEntry) gamePartition() (PartitionEntry, bool) {
	for _, pte := range b.PartitionTable {
		if pte.Type == 0 {
			return pte, true
		}
	}
	return PartitionEntry{}, false
}
