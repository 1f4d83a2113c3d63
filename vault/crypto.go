package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"math/big"

	sha256simd "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// sha256Digest computes SHA-256 over data. Backed by minio/sha256-simd,
// a drop-in accelerated implementation with the same New()/Sum256() shape
// as crypto/sha256; used for the session-blob envelope and the
// username hash.
func sha256Digest(data []byte) []byte {
	sum := sha256simd.Sum256(data)
	return sum[:]
}

// aesKeyFromPassword derives the 16-byte password key (PK) via the
// legacy stretch: fold the password into 16-byte blocks, XOR them
// together, then run 0x10000 rounds of AES-ECB self-encryption. This is
// deterministic given only the password, matching the facade's
// contract, and is what the round-trip invariants are checked against.
func aesKeyFromPassword(password string) []byte {
	pw := []byte(password)
	if len(pw) == 0 {
		pw = []byte{0}
	}
	key := make([]byte, 16)
	block16 := make([]byte, 16)
	for i, n := 0, (len(pw)+15)/16; i < n; i++ {
		for j := range block16 {
			block16[j] = 0
		}
		end := (i + 1) * 16
		if end > len(pw) {
			end = len(pw)
		}
		copy(block16, pw[i*16:end])
		for j := 0; j < 16; j++ {
			key[j] ^= block16[j]
		}
	}
	blk, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, 16)
	for r := 0; r < 0x10000; r++ {
		blk.Encrypt(out, key)
		copy(key, out)
	}
	return key
}

// aesKeyFromPasswordV2 derives PK for "v2" accounts using
// PBKDF2-HMAC-SHA512 over the account-specific salt returned by the
// server (v=2 in the us response). This mirrors the
// teacher's own pbkdf2.Key(..., sha512.New) call used for RSA-key
// unwrap, retargeted at PK derivation instead.
func aesKeyFromPasswordV2(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 100000, 16, sha512.New)
}

// aesEnc encrypts one or more 16-byte blocks with AES-ECB.
func aesEnc(key16, block []byte) []byte {
	blk, err := aes.NewCipher(key16)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(block))
	for i := 0; i+16 <= len(block); i += 16 {
		blk.Encrypt(out[i:i+16], block[i:i+16])
	}
	return out
}

// aesDec decrypts one or more 16-byte blocks with AES-ECB.
func aesDec(key16, block []byte) []byte {
	blk, err := aes.NewCipher(key16)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(block))
	for i := 0; i+16 <= len(block); i += 16 {
		blk.Decrypt(out[i:i+16], block[i:i+16])
	}
	return out
}

// aesEncCBC encrypts data (must be 16-byte aligned; see alignbuf) with
// AES-CBC and a zero IV, matching the service's fixed-IV convention for
// attribute blobs and wrapped private keys.
func aesEncCBC(key16, data []byte) []byte {
	blk, err := aes.NewCipher(key16)
	if err != nil {
		panic(err)
	}
	iv := make([]byte, 16)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(blk, iv).CryptBlocks(out, data)
	return out
}

// aesDecCBC decrypts data (must be 16-byte aligned) with AES-CBC and a
// zero IV.
func aesDecCBC(key16, data []byte) []byte {
	blk, err := aes.NewCipher(key16)
	if err != nil {
		panic(err)
	}
	iv := make([]byte, 16)
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(blk, iv).CryptBlocks(out, data)
	return out
}

// aesCTR runs AES-CTR over data using a 16-byte block built from
// nonce8‖counter_be64.
func aesCTR(key16, nonce8 []byte, counter uint64, data []byte) []byte {
	blk, err := aes.NewCipher(key16)
	if err != nil {
		panic(err)
	}
	iv := make([]byte, 16)
	copy(iv[:8], nonce8)
	binary.BigEndian.PutUint64(iv[8:], counter)
	out := make([]byte, len(data))
	cipher.NewCTR(blk, iv).XORKeyStream(out, data)
	return out
}

// fileNodeKeyUnpack folds a 32-byte packed file key into the 16-byte AES
// key used for attribute decryption: the key is split into two 16-byte
// halves and XORed together.
func fileNodeKeyUnpack(key32 []byte) []byte {
	out := make([]byte, 16)
	for i := 0; i < 16; i++ {
		out[i] = key32[i] ^ key32[i+16]
	}
	return out
}

// makeUsernameHash computes an 8-character URL-base64 MAC of the
// lowercased email under PK.
func makeUsernameHash(pk []byte, email string) string {
	h := sha256Digest([]byte(lowerASCII(email)))
	block := make([]byte, 16)
	for i, b := range h {
		block[i%16] ^= b
	}
	mac := aesEnc(pk, block)
	mac = aesEnc(pk, mac)
	return ub64enc(mac[:6])
}

// rsaGenerate produces a fresh RSA keypair for a new account. The
// returned private key is wrapped with mk ("privk is itself stored
// wrapped with MK").
func rsaGenerate(mk []byte, bits int) (pubDER, privWrapped []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	pubDER = x509.MarshalPKCS1PublicKey(&priv.PublicKey)
	plain := marshalPrivateComponents(priv)
	aligned := alignbuf(plain, 16, true)
	privWrapped = aesEncCBC(mk, aligned)
	return pubDER, privWrapped, nil
}

// marshalPrivateComponents serializes the RSA private key components
// (p, q, d, u=InverseQ) in a compact length-prefixed form.
func marshalPrivateComponents(priv *rsa.PrivateKey) []byte {
	priv.Precompute()
	parts := []*big.Int{priv.Primes[0], priv.Primes[1], priv.D, priv.Precomputed.Qinv}
	var out []byte
	for _, p := range parts {
		b := p.Bytes()
		out = append(out, mpiLenPrefix(len(b))...)
		out = append(out, b...)
	}
	return out
}

func mpiLenPrefix(n int) []byte {
	bits := n * 8
	return []byte{byte(bits >> 8), byte(bits)}
}

// unmarshalPrivateComponents reverses marshalPrivateComponents.
func unmarshalPrivateComponents(data []byte) (p, q, d, u *big.Int, err error) {
	vals := make([]*big.Int, 0, 4)
	off := 0
	for i := 0; i < 4; i++ {
		if off+2 > len(data) {
			return nil, nil, nil, nil, errors.New("truncated private key component")
		}
		bits := int(data[off])<<8 | int(data[off+1])
		off += 2
		nbytes := (bits + 7) / 8
		if off+nbytes > len(data) {
			return nil, nil, nil, nil, errors.New("truncated private key component body")
		}
		vals = append(vals, new(big.Int).SetBytes(data[off:off+nbytes]))
		off += nbytes
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

// rsaKeyPair reconstructs a usable *rsa.PrivateKey from the unwrapped
// component blob and the corresponding DER-encoded public key.
func rsaKeyPair(pubDER, unwrappedPriv []byte) (*rsa.PrivateKey, error) {
	pub, err := x509.ParsePKCS1PublicKey(pubDER)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key")
	}
	p, q, d, _, err := unmarshalPrivateComponents(unwrappedPriv)
	if err != nil {
		return nil, err
	}
	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	priv.Precompute()
	return priv, nil
}

// rsaDecryptSID decrypts the CSID payload with the account's RSA
// private key (itself wrapped with mk) and returns the 43-byte session
// id ("CSID path").
func rsaDecryptSID(pubDER, privWrapped, mk, csid []byte) ([]byte, error) {
	unwrapped := aesDecCBC(mk, privWrapped)
	priv, err := rsaKeyPair(pubDER, unwrapped)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct rsa key")
	}
	m := new(big.Int).SetBytes(csid)
	c := new(big.Int).Exp(m, priv.D, priv.N)
	dec := c.Bytes()
	if len(dec) < 43 {
		padded := make([]byte, 43)
		copy(padded[43-len(dec):], dec)
		dec = padded
	}
	return dec[:43], nil
}

// rsaEncrypt encrypts payload for pubDER using raw RSA, matching the
// share-key wrap format used when granting a share to a user we don't
// yet have an MK-wrapped key exchange with.
func rsaEncrypt(pubDER, payload []byte) ([]byte, error) {
	pub, err := x509.ParsePKCS1PublicKey(pubDER)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key")
	}
	m := new(big.Int).SetBytes(payload)
	c := new(big.Int).Exp(m, big.NewInt(int64(pub.E)), pub.N)
	return c.Bytes(), nil
}

// rsaDecrypt decrypts ciphertext with the account's wrapped RSA private
// key.
func rsaDecrypt(pubDER, privWrapped, mk, ciphertext []byte) ([]byte, error) {
	unwrapped := aesDecCBC(mk, privWrapped)
	priv, err := rsaKeyPair(pubDER, unwrapped)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct rsa key")
	}
	m := new(big.Int).SetBytes(ciphertext)
	c := new(big.Int).Exp(m, priv.D, priv.N)
	return c.Bytes(), nil
}
