package rvth

import "fmt"

// ErrorCode is the domain error taxonomy. System-level failures never
// use this type; they flow through the standard library's error
// wrapping (os.PathError, syscall.Errno) instead. See rvth_error() in
// the original librvth for the description table this mirrors.
type ErrorCode int

const (
	ErrSuccess ErrorCode = iota
	ErrUnrecognizedFile
	ErrBankTableMagic
	ErrNoBanks
	ErrBankUnknown
	ErrBankEmpty
	ErrBankDL2
	ErrNotADevice
	ErrBankIsDeleted
	ErrBankNotDeleted
	ErrNotHDDImage
	ErrNoGamePartition
	ErrInvalidBankCount
	ErrIsHDDImage
	ErrIsRetailCrypto
	ErrImageTooBig
	ErrBankNotEmptyOrDeleted
	ErrNotWiiImage
	ErrIsUnencrypted
	ErrIsEncrypted
	ErrPartitionTableCorrupted
	ErrPartitionHeaderCorrupted
	ErrIssuerUnknown
	ErrImportDLExtNoBank1
	ErrImportDLLastBank
	ErrBank2DLNotEmptyOrDeleted
	ErrImportDLNotContiguous
	ErrNDEVGCNNotSupported

	errMax
)

var errorText = [errMax]string{
	ErrSuccess:                  "success",
	ErrUnrecognizedFile:         "unrecognized file format",
	ErrBankTableMagic:           "bank table magic is incorrect",
	ErrNoBanks:                  "no banks found",
	ErrBankUnknown:              "bank status is unknown",
	ErrBankEmpty:                "bank is empty",
	ErrBankDL2:                  "bank is second bank of a dual-layer image",
	ErrNotADevice:               "operation can only be performed on a device, not an image file",
	ErrBankIsDeleted:            "bank is deleted",
	ErrBankNotDeleted:           "bank is not deleted",
	ErrNotHDDImage:              "rvth object is not an HDD image",
	ErrNoGamePartition:          "wii game partition not found",
	ErrInvalidBankCount:         "rvt-h bank count field is invalid",
	ErrIsHDDImage:               "operation cannot be performed on devices or HDD images",
	ErrIsRetailCrypto:           "cannot import a retail-encrypted wii game",
	ErrImageTooBig:              "source image does not fit in an rvt-h bank",
	ErrBankNotEmptyOrDeleted:    "destination bank is not empty or deleted",
	ErrNotWiiImage:              "wii-specific operation was requested on a non-wii image",
	ErrIsUnencrypted:            "image is unencrypted",
	ErrIsEncrypted:              "image is encrypted",
	ErrPartitionTableCorrupted:  "wii partition table is corrupted",
	ErrPartitionHeaderCorrupted: "at least one wii partition header is corrupted",
	ErrIssuerUnknown:            "certificate has an unknown issuer",
	ErrImportDLExtNoBank1:       "extended bank table: cannot use bank 1 for a dual-layer image",
	ErrImportDLLastBank:         "cannot use the last bank for a dual-layer image",
	ErrBank2DLNotEmptyOrDeleted: "the second bank for the dual-layer image is not empty or deleted",
	ErrImportDLNotContiguous:    "the two banks are not contiguous",
	ErrNDEVGCNNotSupported:      "NDEV headers for GCN are currently unsupported",
}

// Error wraps a domain ErrorCode so it satisfies the error interface.
// Callers distinguish domain errors from system errors with errors.As,
// rather than spec.md's original sign-of-int convention.
type Error struct {
	Code ErrorCode
}

func (e *Error) Error() string {
	if e.Code < 0 || int(e.Code) >= len(errorText) {
		return fmt.Sprintf("rvth: unknown error %d", e.Code)
	}
	return "rvth: " + errorText[e.Code]
}

// newError constructs an *Error for the given code, for terser call
// sites across the package.
func newError(code ErrorCode) error {
	return &Error{Code: code}
}

// IsCode reports whether err is a domain *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	}
	return e != nil && e.Code == code
}
