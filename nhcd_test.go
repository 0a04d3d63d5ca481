package rvth

import "testing"

func TestNHCDBankStartLBAStandardTable(t *testing.T) {
	const tableLBAs = 1 + 32
	base := NHCDBankTableAddressLBA + tableLBAs

	tests := []struct {
		bank uint32
		want uint32
	}{
		{0, base},
		{1, base + NHCDBankSizeLBA},
		{7, base + 7*NHCDBankSizeLBA},
	}
	for _, tt := range tests {
		if got := NHCDBankStartLBA(tt.bank, 8); got != tt.want {
			t.Errorf("NHCDBankStartLBA(%d, 8) = %d, want %d", tt.bank, got, tt.want)
		}
	}
}

func TestNHCDBankStartLBAExtendedTable(t *testing.T) {
	const tableLBAs = 1 + 32
	base := NHCDBankTableAddressLBA + tableLBAs

	if got := NHCDBankStartLBA(0, 16); got != base {
		t.Errorf("bank 0 of extended table = %d, want %d", got, base)
	}
	want1 := base + NHCDExtBankTable1SizeLBA
	if got := NHCDBankStartLBA(1, 16); got != want1 {
		t.Errorf("bank 1 of extended table = %d, want %d", got, want1)
	}
	want2 := base + NHCDExtBankTable1SizeLBA + NHCDBankSizeLBA
	if got := NHCDBankStartLBA(2, 16); got != want2 {
		t.Errorf("bank 2 of extended table = %d, want %d", got, want2)
	}
}
