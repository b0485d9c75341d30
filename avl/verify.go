package avl

import (
	"fmt"
	"hash"
)

// VerifyResult is the verifier's view of a replayed batch.
type VerifyResult struct {
	// Digest commits to the tree after the batch; for OpLookup it equals
	// the prior digest.
	Digest Digest
	// Lookups is populated for OpLookup only, in input order.
	Lookups []LookupResult
}

// Verify replays one operation against a proof, holding no state beyond the
// prior digest.
//
// The proof is decoded into a skeleton, heights are derived from the digest's
// height byte, labels are recomputed bottom-up and checked against the prior
// digest, and the operation is then re-executed with the same apply routine
// the prover uses. Any attempt to reach beyond the skeleton's frontier fails
// with ErrProofVerification, as does any inconsistency between the skeleton
// and the claimed digest. Each call is self-contained; unrelated calls may
// run in parallel.
func Verify(hasher hash.Hash, prior Digest, op Operation, proof Proof, opts ...Option) (*VerifyResult, error) {
	o := treeOptions{keyBytes: DefaultKeyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.keyBytes < 1 || o.keyBytes > 255 {
		return nil, fmt.Errorf("%w: %d", ErrBadKeyWidth, o.keyBytes)
	}
	if hasher.Size() != LabelBytes {
		return nil, ErrBadHashSize
	}

	sk, err := decodeProof(hasher, o.keyBytes, proof)
	if err != nil {
		return nil, err
	}
	if err = sk.deriveHeights(sk.root, int(prior.Height())); err != nil {
		return nil, err
	}
	label, err := sk.computeLabel(sk.root)
	if err != nil {
		return nil, err
	}
	if label != prior.Label() {
		return nil, fmt.Errorf("%w: reconstructed root does not match the prior digest", ErrProofVerification)
	}

	lookups, err := sk.applyOps(op)
	if err != nil {
		return nil, err
	}
	digest, err := sk.digest()
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Digest: digest, Lookups: lookups}, nil
}
