package mifare

import "fmt"

// keySlot is the reader's volatile key location used for every authentication.
const keySlot = 0x00

// LoadKey stores key in the reader's volatile key slot (FF 82).
// The key is only used by a following GeneralAuthenticate; the card is not touched.
func LoadKey(card Card, key Key) error {
	apdu := append([]byte{0xFF, 0x82, 0x00, keySlot, KeySize}, key[:]...)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		// A rejected load is a reader problem, never a wrong key.
		return fmt.Errorf("load key: %s", (&SWError{Cmd: 0x82, SW: sw}).Error())
	}
	return nil
}

// GeneralAuthenticate authenticates block with the previously loaded key (FF 86).
//
// Data object layout: version(0x01) | MSB(0x00) | block | key type (0x60/0x61) | key slot.
// A key rejection returns an *SWError that matches ErrAuthFailed.
func GeneralAuthenticate(card Card, block int, keyType KeyType) error {
	if block < 0 || block > 0xFF {
		return fmt.Errorf("block %d out of range", block)
	}
	apdu := []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, byte(block), byte(keyType), keySlot}
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0x86, SW: sw}
	}
	return nil
}

// ReadBinary reads one block (FF B0). The block's sector must be authenticated.
func ReadBinary(card Card, block, size int) ([]byte, error) {
	if block < 0 || block > 0xFF {
		return nil, fmt.Errorf("block %d out of range", block)
	}
	apdu := []byte{0xFF, 0xB0, 0x00, byte(block), byte(size)}
	data, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0xB0, SW: sw}
	}
	if len(data) != size {
		return nil, fmt.Errorf("read block %d: expected %d bytes, got %d", block, size, len(data))
	}
	return data, nil
}
