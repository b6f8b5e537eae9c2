package session

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidAccount is returned for a string that is not a Stellar public key.
var ErrInvalidAccount = errors.New("session: invalid stellar account")

const (
	accountLength     = 56
	accountVersion    = 6 << 3 // 'G'
	accountPayloadLen = 35
)

// ValidateAccount checks that account is a G-prefixed strkey with a valid checksum.
func ValidateAccount(account string) error {
	if len(account) != accountLength || account[0] != 'G' {
		return fmt.Errorf("%w: want %d characters starting with G", ErrInvalidAccount, accountLength)
	}
	raw, err := base32.StdEncoding.DecodeString(account)
	if err != nil || len(raw) != accountPayloadLen {
		return fmt.Errorf("%w: not base32", ErrInvalidAccount)
	}
	if raw[0] != accountVersion {
		return fmt.Errorf("%w: wrong version byte", ErrInvalidAccount)
	}
	payload, sum := raw[:len(raw)-2], binary.LittleEndian.Uint16(raw[len(raw)-2:])
	if crc16XModem(payload) != sum {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidAccount)
	}
	return nil
}

func crc16XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
