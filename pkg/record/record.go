// Copyright 2025 Certen Protocol
//
// Record types - wire shapes for the attestation chain.
// Per spec section 3 (Data Model): the chain head pointer, the queue
// entry state machine, the uploaded attestation payload, and the
// lookup-index / tracked-bundle shapes.

package record

import "time"

// Op identifies the kind of mutation an attestation records.
type Op string

const (
	OpCreate Op = "C"
	OpUpdate Op = "U"
)

// Visibility controls who the entity's manifest is disclosed to.
type Visibility string

const (
	VisPublic  Visibility = "pub"
	VisPrivate Visibility = "priv"
)

// Status is the queue entry's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSigning   Status = "signing"
	StatusUploading Status = "uploading"
	StatusFailed    Status = "failed"
)

// Head is the single authoritative chain pointer for a chain key.
// Genesis is the zero value: Tx and CID empty, Seq 0.
type Head struct {
	Tx        string
	CID       string
	Seq       uint64
	UpdatedAt time.Time
}

// IsGenesis reports whether h is the unset genesis pointer.
func (h Head) IsGenesis() bool {
	return h.Tx == "" && h.Seq == 0
}

// QueueEntry is a persisted pending attestation request.
type QueueEntry struct {
	ID           int64
	EntityID     string
	CID          string
	Op           Op
	Vis          Visibility
	Ts           time.Time
	Status       Status
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Manifest is the minimal shape required from the manifest source: it
// must carry the entity's version and the manifest body, which is
// embedded as the attestation payload's "manifest" field.
type Manifest struct {
	Ver  int64
	Body map[string]any
}

// Payload is the JSON document committed to the storage network.
// Field names match spec section 3 exactly.
type Payload struct {
	PI      string         `json:"pi"`
	Ver     int64          `json:"ver"`
	CID     string         `json:"cid"`
	Op      Op             `json:"op"`
	Vis     Visibility     `json:"vis"`
	Ts      int64          `json:"ts"`
	PrevTx  *string        `json:"prev_tx"`
	PrevCID *string        `json:"prev_cid"`
	Seq     uint64         `json:"seq"`
	Mf      map[string]any `json:"manifest"`
}

// Tags returns the transport-envelope tags for the payload, in the
// fixed order spec section 3 names them.
func (p Payload) Tags() [][2]string {
	tags := [][2]string{
		{"Content-Type", "application/json"},
		{"App-Name", "attest-core"},
		{"Type", "attestation"},
		{"PI", p.PI},
		{"Ver", itoa64(p.Ver)},
		{"CID", p.CID},
		{"Op", string(p.Op)},
		{"Vis", string(p.Vis)},
		{"Seq", uitoa64(p.Seq)},
	}
	if p.PrevTx != nil {
		tags = append(tags, [2]string{"Prev-TX", *p.PrevTx})
	}
	if p.PrevCID != nil {
		tags = append(tags, [2]string{"Prev-CID", *p.PrevCID})
	}
	return tags
}

func itoa64(v int64) string  { return uitoa64(uint64(v)) }
func uitoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Signed is a record that has been signed but not yet uploaded. Its Id
// is known before upload because the signature (and therefore the id)
// is derivable from the payload and the signing key alone.
type Signed struct {
	Entry   QueueEntry
	Payload Payload
	RawJSON []byte
	Sig     []byte
	ID      string // base64url(SHA-256(Sig))
	Seq     uint64
}

// IndexEntry is what pkg/finalize writes under attest:{entity}:{ver}
// and attest:{entity}:latest.
type IndexEntry struct {
	CID     string `json:"cid"`
	Tx      string `json:"tx"`
	Seq     uint64 `json:"seq"`
	Ts      int64  `json:"ts"`
	Bundled bool   `json:"bundled,omitempty"`
}

// BundleItem is one record's identity inside a tracked bundle, carried
// alongside enough of the original request to requeue it unchanged if
// the bundle ultimately fails to seed.
type BundleItem struct {
	EntityID string
	CID      string
	Op       Op
	Vis      Visibility
}

// TrackedBundle is an uploaded bundle awaiting seeding confirmation.
type TrackedBundle struct {
	BundleTx   string
	Items      []BundleItem
	ItemCount  int
	UploadedAt time.Time
	CheckCount int
	VerifiedAt *time.Time
	FailedAt   *time.Time
}
