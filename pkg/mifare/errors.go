package mifare

import (
	"errors"
	"fmt"
)

// Status words returned by PC/SC readers for MIFARE Classic pseudo-APDUs.
const (
	SWSuccess              = 0x9000 // success
	SWOperationFailed      = 0x6300 // authentication or read failed
	SWSecurityNotSatisfied = 0x6982 // key rejected / block not authenticated
	SWAuthMethodBlocked    = 0x6983 // authentication method blocked
	SWWrongP1P2            = 0x6A86 // incorrect P1/P2 (bad block or key slot)
	SWWrongLength          = 0x6700 // wrong length
	SWFuncNotSupported     = 0x6A81 // function not supported by reader
)

var (
	// ErrAuthFailed reports that the card rejected the key for the block.
	ErrAuthFailed = errors.New("mifare: authentication failed")
	// ErrCardAbsent reports that no card answered (removed or never presented).
	ErrCardAbsent = errors.New("mifare: card absent")
	// ErrTimeout reports that polling for a card gave up before one appeared.
	ErrTimeout = errors.New("mifare: timeout waiting for card")
)

// SWError represents a status word error from the reader.
type SWError struct {
	Cmd byte   // Command INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("card command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

// Is lets errors.Is(err, ErrAuthFailed) match key rejections.
func (e *SWError) Is(target error) bool {
	return target == ErrAuthFailed && IsAuthError(e)
}

func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWOperationFailed:
		return "operation failed"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWAuthMethodBlocked:
		return "authentication method blocked"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWWrongLength:
		return "wrong length"
	case SWFuncNotSupported:
		return "function not supported"
	default:
		return "unknown error"
	}
}

// IsAuthError checks if an error is an authentication-related status word error.
func IsAuthError(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWOperationFailed || swErr.SW == SWSecurityNotSatisfied || swErr.SW == SWAuthMethodBlocked
	}
	return false
}

// SwOK checks if a status word indicates success.
func SwOK(sw uint16) bool {
	return sw == SWSuccess
}
