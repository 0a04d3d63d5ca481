package rvth

import "testing"

func TestGamePartition(t *testing.T) {
	b := &BankEntry{
		PartitionTable: []PartitionEntry{
			{LBAStart: 10, Type: 1},
			{LBAStart: 20, Type: 0},
			{LBAStart: 30, Type: 2},
		},
	}

	pte, ok := b.gamePartition()
	if !ok {
		t.Fatal("expected a game partition")
	}
	if pte.LBAStart != 20 {
		t.Errorf("LBAStart = %d, want 20", pte.LBAStart)
	}
}

func TestGamePartitionNotFound(t *testing.T) {
	b := &BankEntry{
		PartitionTable: []PartitionEntry{{LBAStart: 10, Type: 1}},
	}

	if _, ok := b.gamePartition(); ok {
		t.Error("expected no game partition")
	}
}
