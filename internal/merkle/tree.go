// Package merkle builds Keccak-256 commitments over ordered execution steps.
//
// Parent nodes are formed from the sorted pair of child hashes, so a node's
// hash does not depend on which child sits on the left. Step position is
// still committed through the leaf content, which embeds the step index.
package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

// EmptyTraceSeed is hashed to produce the commitment of an empty step list.
const EmptyTraceSeed = "meshforge-empty-trace"

// Hash is a Keccak-256 digest.
type Hash [32]byte

// String returns the 0x-prefixed lower-case hex form.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// IsZero reports whether h is all zero bytes.
func (h Hash) IsZero() bool { return h == Hash{} }

// ParseHash decodes a 32-byte hex string with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("decode hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Keccak returns the legacy Keccak-256 digest of data.
func Keccak(data []byte) Hash {
	var h Hash
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	d.Sum(h[:0])
	return h
}

// KeccakString hashes the UTF-8 bytes of s.
func KeccakString(s string) Hash {
	return Keccak([]byte(s))
}

// EmptyRoot is the commitment of an empty step list.
var EmptyRoot = KeccakString(EmptyTraceSeed)

// LeafContent is the string committed for the step at index i.
func LeafContent(i int, step intent.ExecutionStep) string {
	return strconv.Itoa(i) + ":" + step.ID + ":" + step.Label + ":" + step.Payload + ":" + strconv.FormatInt(step.Timestamp, 10)
}

// Leaf hashes the step at index i.
func Leaf(i int, step intent.ExecutionStep) Hash {
	return KeccakString(LeafContent(i, step))
}

// Parent combines two child hashes. The result is the same for (a, b) and (b, a).
func Parent(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return KeccakString(a.String() + b.String())
}

// Tree keeps every level of a commitment so that inclusion proofs can be produced.
type Tree struct {
	// levels[0] are the leaves, the last level holds only the root.
	levels [][]Hash
}

// Build constructs the tree over steps in the given order.
func Build(steps []intent.ExecutionStep) *Tree {
	if len(steps) == 0 {
		return &Tree{}
	}

	level := make([]Hash, len(steps))
	for i, s := range steps {
		level[i] = Leaf(i, s)
	}

	t := &Tree{levels: [][]Hash{level}}
	for len(level) > 1 {
		level = nextLevel(level)
		t.levels = append(t.levels, level)
	}
	return t
}

func nextLevel(nodes []Hash) []Hash {
	next := make([]Hash, 0, (len(nodes)+1)/2)
	for i := 0; i < len(nodes); i += 2 {
		right := nodes[i]
		if i+1 < len(nodes) {
			right = nodes[i+1]
		}
		next = append(next, Parent(nodes[i], right))
	}
	return next
}

// Root returns the commitment, or EmptyRoot for an empty tree.
func (t *Tree) Root() Hash {
	if len(t.levels) == 0 {
		return EmptyRoot
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Root computes the commitment of steps without retaining the tree.
func Root(steps []intent.ExecutionStep) Hash {
	return Build(steps).Root()
}

// ErrIndexOutOfRange is returned by Proof for an index with no leaf.
var ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")

// Proof is an inclusion proof for one leaf. Because parents are built from
// sorted pairs, the sibling list is enough to recompute the root.
type Proof struct {
	Index    int    `json:"index"`
	Leaf     Hash   `json:"leaf"`
	Siblings []Hash `json:"siblings"`
	Root     Hash   `json:"root"`
}

// Proof returns the inclusion proof for the leaf at index i.
func (t *Tree) Proof(i int) (*Proof, error) {
	if i < 0 || i >= t.Len() {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}

	p := &Proof{Index: i, Leaf: t.levels[0][i], Root: t.Root()}
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx
		}
		p.Siblings = append(p.Siblings, level[sibling])
		idx /= 2
	}
	return p, nil
}

// Verify recomputes the root from the proof and compares it with root.
func (p *Proof) Verify(root Hash) bool {
	if p == nil || p.Root != root {
		return false
	}
	cur := p.Leaf
	for _, s := range p.Siblings {
		cur = Parent(cur, s)
	}
	return cur == root
}

// VerifyStep checks that step was committed at index i under root.
func VerifyStep(root Hash, i int, step intent.ExecutionStep, p *Proof) bool {
	if p == nil || p.Index != i || p.Leaf != Leaf(i, step) {
		return false
	}
	return p.Verify(root)
}
