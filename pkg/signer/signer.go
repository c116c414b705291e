// Copyright 2025 Certen Protocol
//
// Record signer (C5). Turns fetched queue rows with resolved manifests
// into a signed, chain-linked batch. Ed25519 signatures are
// deterministic given the same key and message, so the record id
// (SHA-256 of the signature) is reproducible without ever re-signing —
// this is what lets the signer run sequentially and the uploader run
// the resulting batch with parallel uploads afterwards.
//
// Signing never touches the network and is sub-10ms/record; it must
// run sequentially because each record's id feeds the next record's
// prev_tx.

package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/arkechain/attest-core/pkg/record"
)

// Signer signs queue rows into a chain-linked batch.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// New constructs a Signer from a raw ed25519 private key.
func New(privateKey ed25519.PrivateKey) (*Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	return &Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}, nil
}

// Input pairs a fetched queue row with its resolved manifest.
type Input struct {
	Entry    record.QueueEntry
	Manifest record.Manifest
}

// SignBatch signs rows in fetch order, threading prev_tx/prev_cid/seq
// through the chain starting from head. It stops and returns an error
// at the first row that fails to sign; the caller is responsible for
// leaving already-signed rows alone and reverting the rest (they stay
// in signing and are reclaimed by cleanup).
func (s *Signer) SignBatch(head record.Head, inputs []Input) ([]record.Signed, error) {
	prevTx, prevCID, seq := head.Tx, head.CID, head.Seq

	out := make([]record.Signed, 0, len(inputs))
	for _, in := range inputs {
		seq++
		payload := record.Payload{
			PI:      in.Entry.EntityID,
			Ver:     in.Manifest.Ver,
			CID:     in.Entry.CID,
			Op:      in.Entry.Op,
			Vis:     in.Entry.Vis,
			Ts:      in.Entry.Ts.UnixMilli(),
			PrevTx:  nonEmptyPtr(prevTx),
			PrevCID: nonEmptyPtr(prevCID),
			Seq:     seq,
			Mf:      in.Manifest.Body,
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for %s/%s: %w", in.Entry.EntityID, in.Entry.CID, err)
		}

		sig := ed25519.Sign(s.privateKey, raw)
		id := recordID(sig)

		out = append(out, record.Signed{
			Entry:   in.Entry,
			Payload: payload,
			RawJSON: raw,
			Sig:     sig,
			ID:      id,
			Seq:     seq,
		})

		prevTx, prevCID = id, in.Entry.CID
	}
	return out, nil
}

// PublicKey returns the signer's ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.publicKey }

// recordID is SHA-256(signature), base64url-encoded without padding.
func recordID(sig []byte) string {
	sum := sha256.Sum256(sig)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// nonEmptyPtr returns nil for an empty string (genesis prev pointers),
// so Payload's nullable prev_tx/prev_cid fields serialize as null.
func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
