package rvth

import "testing"

func TestErrorMessage(t *testing.T) {
	err := newError(ErrBankEmpty)
	if err.Error() != "rvth: bank is empty" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := newError(ErrNoGamePartition)
	if !IsCode(err, ErrNoGamePartition) {
		t.Error("IsCode should match the same code")
	}
	if IsCode(err, ErrBankEmpty) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, ErrBankEmpty) {
		t.Error("IsCode should be false for a nil error")
	}
}
