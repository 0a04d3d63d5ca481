package rvth

import "testing"

func TestIsBlockEmpty(t *testing.T) {
	zero := make([]byte, sparseBlock4K)
	if !isBlockEmpty(zero) {
		t.Error("all-zero block should be reported empty")
	}

	nonZero := make([]byte, sparseBlock4K)
	nonZero[len(nonZero)-1] = 1
	if isBlockEmpty(nonZero) {
		t.Error("block with a trailing non-zero byte should not be reported empty")
	}
}

func TestUnencryptedToEncryptedLBALen(t *testing.T) {
	const headerLBAs = 0x8000 / LBASize

	// Exactly one cluster's worth of raw data (clusterDataSize =
	// 0x7C00 = 31744 bytes, already a multiple of LBASize) must
	// produce exactly one clusterSize (0x8000) encrypted cluster.
	game := PartitionEntry{
		LBAStart: 100,
		LBALen:   headerLBAs + clusterDataSize/LBASize,
	}

	got := unencryptedToEncryptedLBALen(game)
	want := uint32(clusterSize/LBASize) + 0x20000/LBASize + game.LBAStart

	if got != want {
		t.Errorf("unencryptedToEncryptedLBALen() = %d, want %d", got, want)
	}
}

func TestUnencryptedToEncryptedLBALenRoundsUp(t *testing.T) {
	const headerLBAs = 0x8000 / LBASize

	// One LBA into a second cluster's worth of raw data must still
	// produce a second encrypted cluster.
	game := PartitionEntry{
		LBAStart: 0,
		LBALen:   headerLBAs + clusterDataSize/LBASize + 1,
	}

	got := unencryptedToEncryptedLBALen(game)
	want := uint32(2*clusterSize/LBASize) + 0x20000/LBASize

	if got != want {
		t.Errorf("unencryptedToEncryptedLBALen() = %d, want %d", got, want)
	}
}
