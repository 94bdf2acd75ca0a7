package mifare

import (
	"encoding/binary"
	"fmt"
)

// Card is anything that exchanges raw APDUs with a MIFARE Classic card through
// a PC/SC reader. *scard.Card satisfies it.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Transmit exchanges apdu with card and splits the two trailing status-word
// bytes off the answer. A reply shorter than a status word is an error.
func Transmit(card Card, apdu []byte) ([]byte, uint16, error) {
	reply, err := card.Transmit(apdu)
	if err != nil {
		return nil, 0, err
	}
	n := len(reply)
	if n < 2 {
		return nil, 0, fmt.Errorf("reply of %d bytes has no status word", n)
	}
	return reply[:n-2], binary.BigEndian.Uint16(reply[n-2:]), nil
}

// GetUID asks the reader for the selected card's UID (FF CA 00 00). Some
// readers refuse Le=00, so a second request pins Le to a 4-byte UID.
func GetUID(card Card) (UID, error) {
	var lastSW uint16
	for _, le := range []byte{0x00, 0x04} {
		data, sw, err := Transmit(card, []byte{0xFF, 0xCA, 0x00, 0x00, le})
		if err != nil {
			return nil, fmt.Errorf("get UID: %w", err)
		}
		if SwOK(sw) && len(data) > 0 {
			return UID(data), nil
		}
		lastSW = sw
	}
	return nil, &SWError{Cmd: 0xCA, SW: lastSW}
}
