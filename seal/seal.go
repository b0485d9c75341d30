// Package seal produces and checks signed commitments to a dictionary state.
// A seal binds a digest to a tree identity and a point in time so that
// verifiers replaying proofs can anchor them to an attested state rather than
// a bare 33 byte value.
package seal

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/veraison/go-cose"

	"github.com/forestrie/go-avltree/cbor"
)

var (
	ErrSealDecode = errors.New("seal: decoding signed state failed")
	ErrSealVerify = errors.New("seal: signature verification failed")
	ErrSealState  = errors.New("seal: invalid tree state")
)

// TreeState is the payload a seal commits to.
type TreeState struct {
	// Digest is the 33 byte dictionary digest, root label followed by the
	// height byte.
	Digest []byte `cbor:"1,keyasint"`
	// TreeID identifies the dictionary instance the digest belongs to. It is
	// a uuid in byte form.
	TreeID []byte `cbor:"2,keyasint"`
	// OpCount is the number of batches applied since the tree was created.
	// Successive seals for one TreeID must carry strictly increasing counts,
	// which lets a relying party reject stale states.
	OpCount uint64 `cbor:"3,keyasint"`
	// Timestamp is the unix time (milliseconds) read when the state was
	// signed. Including it allows the same digest to be re-signed.
	Timestamp int64 `cbor:"4,keyasint"`
}

// Sealer signs tree states on behalf of a named issuer.
type Sealer struct {
	issuer    string
	cborCodec cbor.CBORCodec
}

func NewSealer(issuer string, cborCodec cbor.CBORCodec) Sealer {
	return Sealer{
		issuer:    issuer,
		cborCodec: cborCodec,
	}
}

// NewSealerCodec returns the deterministic codec seals are encoded with.
func NewSealerCodec() (cbor.CBORCodec, error) {
	return cbor.NewCBORCodec(
		cbor.NewDeterministicEncOpts(),
		cbor.NewDeterministicDecOpts(), // unsigned int decodes to uint64
	)
}

// NewTreeID returns a fresh tree identity.
func NewTreeID() []byte {
	id := uuid.New()
	return id[:]
}

// Sign1 signs the state as a COSE Sign1 message. The caller must check the
// state is consistent with the most recently sealed state before publishing.
func (s Sealer) Sign1(signer cose.Signer, keyIdentifier string, state TreeState, external []byte) ([]byte, error) {
	if err := checkState(state); err != nil {
		return nil, err
	}
	payload, err := s.cborCodec.MarshalCBOR(state)
	if err != nil {
		return nil, err
	}

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: signer.Algorithm(),
				cose.HeaderLabelKeyID:     []byte(keyIdentifier),
			},
			Unprotected: cose.UnprotectedHeader{
				// The issuer is advisory; the protected key id is what binds
				// the seal to a key.
				"issuer": s.issuer,
			},
		},
		Payload: payload,
	}
	if err = msg.Sign(rand.Reader, external, signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// DecodeSealedState decodes a signed message and its payload without
// verifying the signature. The state is returned so callers can locate the
// verification key before calling VerifySealedState.
func DecodeSealedState(codec cbor.CBORCodec, sealed []byte) (*cose.Sign1Message, TreeState, error) {
	msg := &cose.Sign1Message{}
	if err := msg.UnmarshalCBOR(sealed); err != nil {
		return nil, TreeState{}, fmt.Errorf("%w: %v", ErrSealDecode, err)
	}
	var state TreeState
	if err := codec.UnmarshalCBOR(msg.Payload, &state); err != nil {
		return nil, TreeState{}, fmt.Errorf("%w: %v", ErrSealDecode, err)
	}
	if err := checkState(state); err != nil {
		return nil, TreeState{}, err
	}
	return msg, state, nil
}

// VerifySealedState checks the seal's signature with the supplied verifier.
func VerifySealedState(msg *cose.Sign1Message, verifier cose.Verifier, external []byte) error {
	if err := msg.Verify(external, verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrSealVerify, err)
	}
	return nil
}

func checkState(state TreeState) error {
	if len(state.Digest) != 33 {
		return fmt.Errorf("%w: digest must be 33 bytes, got %d", ErrSealState, len(state.Digest))
	}
	if len(state.TreeID) != 16 {
		return fmt.Errorf("%w: tree id must be a 16 byte uuid, got %d bytes", ErrSealState, len(state.TreeID))
	}
	return nil
}
