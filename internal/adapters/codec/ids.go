package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultSS58Prefix is the Phala network address prefix.
	DefaultSS58Prefix uint16 = 30

	accountLen  = 32
	checksumLen = 2
)

var ss58Pre = []byte("SS58PRE")

// EncodeSS58 renders a 32-byte account id as an SS58 address.
func EncodeSS58(prefix uint16, account []byte) (string, error) {
	if len(account) != accountLen {
		return "", fmt.Errorf("%w: account id is %d bytes, want %d", ErrMalformedArgs, len(account), accountLen)
	}
	if prefix > 16383 {
		return "", fmt.Errorf("%w: ss58 prefix %d out of range", ErrMalformedArgs, prefix)
	}
	payload := append(prefixBytes(prefix), account...)
	sum := checksum(payload)
	return base58.Encode(append(payload, sum[:checksumLen]...)), nil
}

// DecodeSS58 parses an SS58 address and verifies its checksum.
func DecodeSS58(addr string) (prefix uint16, account []byte, err error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: ss58 %q: %v", ErrMalformedArgs, addr, err)
	}
	if len(raw) < 1 {
		return 0, nil, fmt.Errorf("%w: ss58 %q is empty", ErrMalformedArgs, addr)
	}
	prefixLen := 1
	if raw[0]&0x40 != 0 {
		prefixLen = 2
	}
	if len(raw) != prefixLen+accountLen+checksumLen {
		return 0, nil, fmt.Errorf("%w: ss58 %q has length %d", ErrMalformedArgs, addr, len(raw))
	}
	body := raw[:prefixLen+accountLen]
	sum := checksum(body)
	if !bytes.Equal(sum[:checksumLen], raw[prefixLen+accountLen:]) {
		return 0, nil, fmt.Errorf("%w: ss58 %q bad checksum", ErrMalformedArgs, addr)
	}
	if prefixLen == 1 {
		prefix = uint16(raw[0])
	} else {
		lower := (raw[0]&0x3f)<<2 | raw[1]>>6
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
	}
	return prefix, append([]byte(nil), raw[prefixLen:prefixLen+accountLen]...), nil
}

func prefixBytes(prefix uint16) []byte {
	if prefix < 64 {
		return []byte{byte(prefix)}
	}
	return []byte{
		byte((prefix&0xfc)>>2) | 0x40,
		byte(prefix>>8) | byte(prefix&0x03)<<6,
	}
}

func checksum(payload []byte) [blake2b.Size]byte {
	buf := make([]byte, 0, len(ss58Pre)+len(payload))
	buf = append(buf, ss58Pre...)
	buf = append(buf, payload...)
	return blake2b.Sum512(buf)
}

// SessionID converts a hex account id to its SS58 address. Values that are
// already valid SS58 addresses are returned re-encoded under prefix.
func SessionID(prefix uint16, s string) (string, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		account, err := hexutil.Decode(strings.ToLower(s))
		if err != nil {
			return "", fmt.Errorf("%w: session %q: %v", ErrMalformedArgs, s, err)
		}
		return EncodeSS58(prefix, account)
	}
	_, account, err := DecodeSS58(s)
	if err != nil {
		return "", err
	}
	return EncodeSS58(prefix, account)
}

// WorkerID normalizes a worker public key to lowercase 0x-hex.
func WorkerID(s string) (string, error) {
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil {
		return "", fmt.Errorf("%w: worker %q: %v", ErrMalformedArgs, s, err)
	}
	if len(b) != accountLen {
		return "", fmt.Errorf("%w: worker %q is %d bytes, want %d", ErrMalformedArgs, s, len(b), accountLen)
	}
	return hexutil.Encode(b), nil
}
