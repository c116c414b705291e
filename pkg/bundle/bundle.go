// Copyright 2025 Certen Protocol
//
// Bundler (C6). Packs signed records into a single ANS-104-style binary
// container, plus the size/time-threshold batching decision that gates
// whether a bundle ships this tick or waits for more records.
//
// Binary layout: 32-byte little-endian item count, then one 64-byte
// header per item (32-byte size || 32-byte id), then the concatenated
// item bytes. Each item is itself
// (sig_type:2 || signature || owner_pubkey || target_flag+target ||
// anchor_flag+anchor || tag_count:8 || tag_bytes_len:8 || tag_bytes ||
// data), with tags encoded as Avro-style length-prefixed UTF-8 pairs.

package bundle

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/arkechain/attest-core/pkg/record"
)

const (
	sigTypeEd25519 uint16 = 2

	// Bundle-level tags carried on the single wrapping transaction.
	TagBundleFormat  = "Bundle-Format"
	TagBundleVersion = "Bundle-Version"
	BundleFormat     = "binary"
	BundleVersion    = "2.0.0"
)

// Item is one record in its pre-encoding form.
type Item struct {
	Signature []byte
	Owner     ed25519.PublicKey
	Target    []byte // optional, empty if absent
	Anchor    []byte // optional, empty if absent
	Tags      [][2]string
	Data      []byte
}

// Encode serializes the item per the binary DataItem layout.
func (it Item) Encode() []byte {
	var buf bytes.Buffer

	writeUint16(&buf, sigTypeEd25519)
	buf.Write(it.Signature)
	buf.Write(it.Owner)

	writeOptionalField(&buf, it.Target)
	writeOptionalField(&buf, it.Anchor)

	tagBytes := encodeTags(it.Tags)
	writeUint64(&buf, uint64(len(it.Tags)))
	writeUint64(&buf, uint64(len(tagBytes)))
	buf.Write(tagBytes)

	buf.Write(it.Data)
	return buf.Bytes()
}

// Bundle encodes a sequence of signed records into a single binary
// container and returns the encoded bytes. Items are written in the
// order of signed (the order the records were signed in).
func Bundle(signed []record.Signed, ownerPubkey ed25519.PublicKey) ([]byte, error) {
	items := make([][]byte, len(signed))
	ids := make([]string, len(signed))

	for i, s := range signed {
		it := Item{
			Signature: s.Sig,
			Owner:     ownerPubkey,
			Tags:      s.Payload.Tags(),
			Data:      s.RawJSON,
		}
		encoded := it.Encode()
		if len(encoded) > 1<<32-1 {
			return nil, fmt.Errorf("item %s exceeds 4GiB encoding limit", s.ID)
		}
		items[i] = encoded
		ids[i] = s.ID
	}

	var buf bytes.Buffer
	var countBuf [32]byte
	binary.LittleEndian.PutUint64(countBuf[:8], uint64(len(items)))
	buf.Write(countBuf[:])

	for i, it := range items {
		var sizeBuf [32]byte
		binary.LittleEndian.PutUint64(sizeBuf[:8], uint64(len(it)))
		buf.Write(sizeBuf[:])

		idBytes, err := decodeRecordID(ids[i])
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", ids[i], err)
		}
		var idBuf [32]byte
		copy(idBuf[:], idBytes)
		buf.Write(idBuf[:])
	}
	for _, it := range items {
		buf.Write(it)
	}
	return buf.Bytes(), nil
}

func writeOptionalField(buf *bytes.Buffer, v []byte) {
	if len(v) == 0 {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	buf.Write(v)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// encodeTags writes [name, value] pairs as Avro-style length-prefixed
// UTF-8 strings: a zigzag-free varint length followed by the bytes.
func encodeTags(tags [][2]string) []byte {
	var buf bytes.Buffer
	for _, t := range tags {
		writeAvroString(&buf, t[0])
		writeAvroString(&buf, t[1])
	}
	return buf.Bytes()
}

func writeAvroString(buf *bytes.Buffer, s string) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	buf.Write(lenBuf[:n])
	buf.WriteString(s)
}

// decodeRecordID reverses base64url(SHA-256(signature)) back to raw bytes.
func decodeRecordID(id string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(id)
}
