package mifare

import (
	"context"
	"errors"
)

// Transceiver is the radio-side port used by key recovery and block reads.
// Calls block until the card answers or ctx is done.
type Transceiver interface {
	// DetectAndSelect waits for a card and selects it.
	DetectAndSelect(ctx context.Context) (UID, error)
	// Authenticate opens a crypto session on block's sector.
	// Returns an error matching ErrAuthFailed when the key is rejected.
	Authenticate(ctx context.Context, keyType KeyType, block int, key Key, uid UID) error
	// ReadBlock reads a block of the currently authenticated sector.
	ReadBlock(ctx context.Context, block int) ([]byte, error)
	// StopCrypto ends the authenticated session.
	StopCrypto() error
}

// AuthStatus is the outcome of an authenticate-then-read probe.
type AuthStatus int

const (
	AuthOK AuthStatus = iota
	AuthRejected
	AuthAbsent
	AuthTransportError
)

func (s AuthStatus) String() string {
	switch s {
	case AuthOK:
		return "ok"
	case AuthRejected:
		return "rejected"
	case AuthAbsent:
		return "absent"
	default:
		return "transport error"
	}
}

// AuthResult carries the probe outcome; Data is set only for AuthOK.
type AuthResult struct {
	Status AuthStatus
	Data   []byte
	Err    error
}

// Classify maps a port error onto an AuthStatus.
func Classify(err error) AuthStatus {
	switch {
	case err == nil:
		return AuthOK
	case errors.Is(err, ErrAuthFailed):
		return AuthRejected
	case errors.Is(err, ErrCardAbsent), errors.Is(err, ErrTimeout):
		return AuthAbsent
	default:
		return AuthTransportError
	}
}

// Probe authenticates authBlock with key and verifies the session by reading
// readBlock, which must lie in the same sector. Verifying on a data block keeps
// keys usable when the trailer's access bits forbid reading it back with that
// key. The crypto session is always stopped before returning.
func Probe(ctx context.Context, t Transceiver, uid UID, keyType KeyType, authBlock, readBlock int, key Key) AuthResult {
	defer func() { _ = t.StopCrypto() }()

	if err := t.Authenticate(ctx, keyType, authBlock, key, uid); err != nil {
		return AuthResult{Status: Classify(err), Err: err}
	}
	data, err := t.ReadBlock(ctx, readBlock)
	if err != nil {
		return AuthResult{Status: Classify(err), Err: err}
	}
	return AuthResult{Status: AuthOK, Data: data}
}
