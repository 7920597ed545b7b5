package datasets

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// encodingCacheVersion is incremented when the on-disk format changes.
const encodingCacheVersion = 1

// encodingCache is the on-disk representation of an encoded split.
type encodingCache struct {
	Version     int
	Fingerprint string
	CreatedAt   int64
	Train       Encoded
	Val         Encoded
}

// Fingerprint identifies a split together with the tokenizer settings used
// to encode it. A cache written under one fingerprint is never reused for
// another.
func Fingerprint(s *Split, tokenizerName string, maxLength int) string {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeStr := func(v string) {
		writeInt(len(v))
		h.Write([]byte(v))
	}
	writeStr(tokenizerName)
	writeInt(maxLength)
	for _, part := range []struct {
		texts  []string
		labels []int
	}{{s.TrainTexts, s.TrainLabels}, {s.ValTexts, s.ValLabels}} {
		writeInt(len(part.texts))
		for i, t := range part.texts {
			writeStr(t)
			writeInt(part.labels[i])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SaveEncodingCache writes the encoded partitions to path using
// encoding/gob. The write is atomic: a temp file is renamed into place.
func SaveEncodingCache(path, fingerprint string, train, val *Encoded) error {
	if path == "" {
		return fmt.Errorf("empty cache path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp cache file")
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	ec := encodingCache{
		Version:     encodingCacheVersion,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().Unix(),
	}
	if train != nil {
		ec.Train = *train
	}
	if val != nil {
		ec.Val = *val
	}
	if err := gob.NewEncoder(tmpFile).Encode(&ec); err != nil {
		return errors.Wrap(err, "encode cache to temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		klog.Warningf("sync temp cache file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp cache file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp cache to target")
	}
	return nil
}

// LoadEncodingCache reads a cache written by SaveEncodingCache. It fails
// when the format version or the fingerprint don't match.
func LoadEncodingCache(path, fingerprint string) (train, val *Encoded, err error) {
	if path == "" {
		return nil, nil, fmt.Errorf("empty cache path")
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open cache file %s", path)
	}
	defer fh.Close()

	var ec encodingCache
	if err := gob.NewDecoder(fh).Decode(&ec); err != nil {
		return nil, nil, errors.Wrapf(err, "decode cache %s", path)
	}
	if ec.Version != encodingCacheVersion {
		return nil, nil, fmt.Errorf("cache version mismatch: cache=%d expected=%d", ec.Version, encodingCacheVersion)
	}
	if ec.Fingerprint != fingerprint {
		return nil, nil, fmt.Errorf("cache fingerprint mismatch: cache=%.12s expected=%.12s", ec.Fingerprint, fingerprint)
	}
	if err := ec.Train.Validate(); err != nil {
		return nil, nil, errors.WithMessage(err, "cached train partition")
	}
	if err := ec.Val.Validate(); err != nil {
		return nil, nil, errors.WithMessage(err, "cached validation partition")
	}
	return &ec.Train, &ec.Val, nil
}
