package nut

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"

	"sqrl_server/internal/cryptographic/encryption"
	"sqrl_server/internal/protocol/envelope"
)

type (
	// Generator mints nut values. remoteIP is advisory; the default random
	// generator ignores it, the encrypted generator seals it in so the
	// engine can later report an IP match.
	Generator interface {
		Generate(remoteIP string) (nut string, raw []byte, err error)
	}

	// IPBinder is implemented by generators whose nuts carry the issuing
	// client's address.
	IPBinder interface {
		BoundIP(nut string) (net.IP, bool)
	}
)

// RandomGenerator is the default: Size bytes of crypto randomness per nut.
type RandomGenerator struct {
	Size int
}

func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{Size: 16}
}

func (g *RandomGenerator) Generate(_ string) (string, []byte, error) {
	raw := make([]byte, g.Size)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	return envelope.Encode(raw), raw, nil
}

// EncryptedGenerator seals a monotonic counter plus the requester's IP
// under a server-held key. Nuts stay opaque to clients but the server can
// unseal one and compare addresses, which is what gives the 0x004 TIF bit
// meaning.
type EncryptedGenerator struct {
	key [32]byte

	mu      sync.Mutex
	counter uint64
}

func NewEncryptedGenerator(key [32]byte) *EncryptedGenerator {
	return &EncryptedGenerator{key: key}
}

func (g *EncryptedGenerator) Generate(remoteIP string) (string, []byte, error) {
	g.mu.Lock()
	g.counter++
	n := g.counter
	g.mu.Unlock()

	ip := net.ParseIP(remoteIP)
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}

	plain := make([]byte, 8, 8+len(ip))
	binary.BigEndian.PutUint64(plain, n)
	plain = append(plain, ip...)

	sealed, err := encryption.AEADEncrypt(g.key[:], plain, nil)
	if err != nil {
		return "", nil, err
	}
	return envelope.Encode(sealed), sealed, nil
}

// BoundIP unseals a nut minted by this generator and returns the address
// it was issued to. Nuts from other generators (or other keys) report
// false.
func (g *EncryptedGenerator) BoundIP(nut string) (net.IP, bool) {
	sealed, err := envelope.Decode(nut)
	if err != nil {
		return nil, false
	}
	plain, err := encryption.AEADDecrypt(g.key[:], sealed, nil)
	if err != nil {
		return nil, false
	}
	if len(plain) < 8 {
		return nil, false
	}
	ip := net.IP(plain[8:])
	if len(ip) == 0 {
		return nil, false
	}
	return ip, true
}
