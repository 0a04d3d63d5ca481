package rvth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/connesc/cipherio"
)

// Wii cluster layout constants. A cluster is 0x8000 (32 KiB): a 0x400
// hash block followed by 0x7C00 of user data, itself 31 chunks of
// 0x400 (1 KiB). Grounded on spec.md §4.7(b)'s description of the
// unencrypted->encrypted conversion.
const (
	clusterSize     = 0x8000
	hashBlockSize   = 0x400
	clusterDataSize = 0x7C00
	chunksPerGroup  = 31
	chunkSize       = 0x400
	h0PerH1         = 8
	h1PerH2         = 8
)

// retailCommonKeyFile/koreanCommonKeyFile/debugCommonKeyFile are the
// file names this module uses for supplying the AES-128 common keys,
// mirroring the teacher's CommonKeyFile/GameKeyFile convention in
// wud.go: the core ships no embedded proprietary key material and
// instead reads files named after the crypto variant from the current
// working directory, once, at package initialization.
const (
	retailCommonKeyFile = "retail-common.key"
	koreanCommonKeyFile = "korean-common.key"
	debugCommonKeyFile  = "debug-common.key"
)

// commonKeys is the immutable, process-wide table of AES-128 common
// keys, populated once by loadCommonKeys and never mutated afterward —
// per spec.md §9's "Global common keys and certificates... immutable
// process-wide tables initialized once". A missing key leaves a nil
// entry; callers fall back to the fakesign path.
var commonKeys = map[CryptoType][]byte{}

func init() {
	loadCommonKeys(".")
}

// loadCommonKeys attempts to read each common key file from dir,
// silently leaving an entry unset when the file is absent. Real key
// material is never embedded in this module (same posture as the
// teacher, which requires the caller to supply common.key/game.key).
func loadCommonKeys(dir string) {
	load := func(ct CryptoType, name string) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || len(data) != 16 {
			return
		}
		commonKeys[ct] = data
	}
	load(CryptoRetail, retailCommonKeyFile)
	load(CryptoKorean, koreanCommonKeyFile)
	load(CryptoDebug, debugCommonKeyFile)
}

// titleKeyIV builds the 16-byte IV used to decrypt/encrypt a ticket's
// title key: the big-endian title ID followed by 8 zero bytes, per
// spec.md §4.7(a).
func titleKeyIV(titleID uint64) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv, titleID)
	return iv
}

// decryptTitleKey recovers the raw AES-128 title key from a ticket's
// encrypted title key field under the given crypto variant's common
// key.
func decryptTitleKey(encKey [16]byte, titleID uint64, source CryptoType) ([]byte, error) {
	key := commonKeys[source]
	if key == nil {
		return nil, errors.New("rvth: no common key available for source crypto type")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	cipher.NewCBCDecrypter(block, titleKeyIV(titleID)).CryptBlocks(out, encKey[:])
	return out, nil
}

// encryptTitleKey re-encrypts a raw title key under target's common
// key, for writing back into the re-signed ticket.
func encryptTitleKey(titleKey []byte, titleID uint64, target CryptoType) ([16]byte, error) {
	var out [16]byte
	key := commonKeys[target]
	if key == nil {
		return out, errors.New("rvth: no common key available for target crypto type")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return out, err
	}
	cipher.NewCBCEncrypter(block, titleKeyIV(titleID)).CryptBlocks(out[:], titleKey)
	return out, nil
}

// decryptCluster decrypts one 32 KiB Wii cluster in place using
// titleKey. The hash block is decrypted with a zero IV; the data
// region is decrypted with the IV taken from the *encrypted* hash
// block at offset 0x3D0, matching the real Wii disc format's chained
// IV scheme. Streamed through cipherio.NewBlockReader the same way
// wud.go reads every CBC-encrypted region, rather than a single
// CryptBlocks call over the whole buffer.
func decryptCluster(titleKey []byte, cluster []byte) error {
	if len(cluster) != clusterSize {
		return errors.New("rvth: cluster must be 0x8000 bytes")
	}
	block, err := aes.NewCipher(titleKey)
	if err != nil {
		return err
	}

	dataIV := make([]byte, 16)
	copy(dataIV, cluster[0x3D0:0x3E0])
	zeroIV := make([]byte, 16)

	hashPlain := make([]byte, hashBlockSize)
	hr := cipherio.NewBlockReader(bytes.NewReader(cluster[:hashBlockSize]), cipher.NewCBCDecrypter(block, zeroIV))
	if _, err := io.ReadFull(hr, hashPlain); err != nil {
		return err
	}

	dataPlain := make([]byte, clusterDataSize)
	dr := cipherio.NewBlockReader(bytes.NewReader(cluster[hashBlockSize:]), cipher.NewCBCDecrypter(block, dataIV))
	if _, err := io.ReadFull(dr, dataPlain); err != nil {
		return err
	}

	copy(cluster[:hashBlockSize], hashPlain)
	copy(cluster[hashBlockSize:], dataPlain)
	return nil
}

// encryptCluster is the inverse of decryptCluster. The caller has
// already written the hash tree into the plaintext hash block; iv is
// stored at 0x3D0 of that block, the block is encrypted with a zero
// IV, and the data region is then encrypted with bytes 0x3D0-0x3DF of
// the *encrypted* hash block, the same IV decryptCluster reads back.
func encryptCluster(titleKey []byte, cluster []byte, iv []byte) error {
	if len(cluster) != clusterSize {
		return errors.New("rvth: cluster must be 0x8000 bytes")
	}
	block, err := aes.NewCipher(titleKey)
	if err != nil {
		return err
	}

	copy(cluster[0x3D0:0x3E0], iv)

	zeroIV := make([]byte, 16)
	cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(cluster[:hashBlockSize], cluster[:hashBlockSize])

	dataIV := make([]byte, 16)
	copy(dataIV, cluster[0x3D0:0x3E0])
	cipher.NewCBCEncrypter(block, dataIV).CryptBlocks(cluster[hashBlockSize:], cluster[hashBlockSize:])
	return nil
}

// computeH0 hashes each chunkSize chunk of data (clusterDataSize
// bytes, chunksPerGroup chunks) with SHA-1, per spec.md §4.7(b).
func computeH0(data []byte) [][sha1.Size]byte {
	h0 := make([][sha1.Size]byte, chunksPerGroup)
	for i := 0; i < chunksPerGroup; i++ {
		chunk := data[i*chunkSize : (i+1)*chunkSize]
		h0[i] = sha1.Sum(chunk)
	}
	return h0
}

// computeH1 hashes groups of h0PerH1 H0 hashes together.
func computeH1(h0 [][sha1.Size]byte) [][sha1.Size]byte {
	groups := (len(h0) + h0PerH1 - 1) / h0PerH1
	h1 := make([][sha1.Size]byte, groups)
	for g := 0; g < groups; g++ {
		h := sha1.New()
		for i := g * h0PerH1; i < len(h0) && i < (g+1)*h0PerH1; i++ {
			h.Write(h0[i][:])
		}
		copy(h1[g][:], h.Sum(nil))
	}
	return h1
}

// computeH2 hashes groups of h1PerH2 H1 hashes together, one level up
// from computeH1.
func computeH2(h1 [][sha1.Size]byte) [][sha1.Size]byte {
	groups := (len(h1) + h1PerH2 - 1) / h1PerH2
	h2 := make([][sha1.Size]byte, groups)
	for g := 0; g < groups; g++ {
		h := sha1.New()
		for i := g * h1PerH2; i < len(h1) && i < (g+1)*h1PerH2; i++ {
			h.Write(h1[i][:])
		}
		copy(h2[g][:], h.Sum(nil))
	}
	return h2
}

// computeH3 hashes one H2 digest per cluster group into the
// partition-wide H3 table entry for that group, per spec.md §4.7(b)'s
// "H3 table across cluster groups".
func computeH3(h2Digests [][sha1.Size]byte) [sha1.Size]byte {
	h := sha1.New()
	for _, d := range h2Digests {
		h.Write(d[:])
	}
	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// fakesign repeatedly perturbs the low bytes of the unused padding in
// buf and re-hashes until the SHA-1 digest has a leading zero byte,
// satisfying the buggy firmware check described in the glossary as
// "Fakesigned". padOff must point at a throwaway padding region inside
// buf that isn't otherwise checked.
func fakesign(buf []byte, padOff int) [sha1.Size]byte {
	var counter uint32
	for {
		binary.BigEndian.PutUint32(buf[padOff:], counter)
		sum := sha1.Sum(buf)
		if sum[0] == 0x00 {
			return sum
		}
		counter++
	}
}
