package hash

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Fingerprint identifies the membership of a bundle group produced by a
// stage. It is computed over ids, never over file contents.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ParseFingerprint is the inverse of Fingerprint.String.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	bs, err := hex.DecodeString(s)
	if err != nil {
		return f, err
	}
	if len(bs) != len(f) {
		return f, errors.New("fingerprint: invalid length")
	}
	copy(f[:], bs)
	return f, nil
}

// fingerprintKey separates fingerprints from any other BLAKE3 use. Changing
// it invalidates every recorded fingerprint.
var fingerprintKey = [32]byte{
	'm', 'e', 'd', 'i', 'a', 'b', 'u', 'n', 'd', 'l', 'e', 'r', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0,
}

const separator = 0

// ComputeFingerprint hashes stageID together with the sorted member ids. The input
// slice is not modified.
func ComputeFingerprint(stageID string, memberIDs []string) Fingerprint {
	ids := slices.Clone(memberIDs)
	slices.Sort(ids)

	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("hash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.WriteString(stageID)
	_, _ = h.Write([]byte{separator})
	_, _ = h.WriteString(strconv.Itoa(len(ids)))
	for _, id := range ids {
		_, _ = h.Write([]byte{separator})
		_, _ = h.WriteString(id)
	}

	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

// Digest holds the two content digests recorded for every produced artifact.
type Digest struct {
	XXHash uint64
	MD5    [md5.Size]byte
}

func (d Digest) XXHashString() string {
	return fmt.Sprintf("%016x", d.XXHash)
}

func (d Digest) MD5String() string {
	return hex.EncodeToString(d.MD5[:])
}

// ContentDigest digests the final buffer.
func ContentDigest(bs []byte) Digest {
	return Digest{
		XXHash: xxhash.Sum64(bs),
		MD5:    md5.Sum(bs),
	}
}

// ReaderDigest digests everything read from r and returns the byte count.
func ReaderDigest(r io.Reader) (Digest, int64, error) {
	x, m := xxhash.New(), md5.New()
	n, err := io.Copy(io.MultiWriter(x, m), r)
	if err != nil {
		return Digest{}, n, err
	}

	d := Digest{XXHash: x.Sum64()}
	copy(d.MD5[:], m.Sum(nil))
	return d, n, nil
}
