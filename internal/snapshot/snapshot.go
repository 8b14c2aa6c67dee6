// Package snapshot serializes a network and its finger tables in protobuf
// wire format. Encoding is deterministic: the same graph and tables always
// produce the same bytes.
//
// Schema:
//
//	message Snapshot { uint32 bits = 1; repeated Node nodes = 2; }
//	message Node {
//	  uint64 key = 1;
//	  repeated Finger left = 2;
//	  repeated Finger right = 3;
//	  repeated uint64 neighbors = 4 [packed = true];
//	}
//	message Finger { uint64 target = 1; uint64 final = 2; uint32 length = 3; }
package snapshot

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zde37/vdht/internal/chord"
	"github.com/zde37/vdht/internal/network"
	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

const (
	fieldSnapshotBits  protowire.Number = 1
	fieldSnapshotNodes protowire.Number = 2

	fieldNodeKey       protowire.Number = 1
	fieldNodeLeft      protowire.Number = 2
	fieldNodeRight     protowire.Number = 3
	fieldNodeNeighbors protowire.Number = 4

	fieldFingerTarget protowire.Number = 1
	fieldFingerFinal  protowire.Number = 2
	fieldFingerLength protowire.Number = 3
)

// Snapshot is a decoded network with the finger tables of all its nodes,
// in node index order.
type Snapshot struct {
	Bits  int
	Nodes []Node
}

// Node is one node of a snapshot.
type Node struct {
	Key       ring.Key
	Left      []chord.Finger
	Right     []chord.Finger
	Neighbors []ring.Key
}

// Capture copies g and its tables into a snapshot.
func Capture(g chord.Graph, tables []*chord.NodeFingers) (*Snapshot, error) {
	if len(tables) != g.NodeCount() {
		return nil, fmt.Errorf("got %d tables for %d nodes", len(tables), g.NodeCount())
	}

	s := &Snapshot{
		Bits:  g.Space().Bits(),
		Nodes: make([]Node, g.NodeCount()),
	}
	for i, nf := range tables {
		key := g.IndexToKey(i)
		if nf.ID() != key {
			return nil, fmt.Errorf("table %d does not belong to node %s", i, key)
		}
		nbrs := g.Neighbors(i)
		node := Node{
			Key:       key,
			Left:      nf.Fingers(chord.SideLeft),
			Right:     nf.Fingers(chord.SideRight),
			Neighbors: make([]ring.Key, len(nbrs)),
		}
		for j, v := range nbrs {
			node.Neighbors[j] = g.IndexToKey(v)
		}
		s.Nodes[i] = node
	}
	return s, nil
}

// Encode returns the wire bytes of s.
func Encode(s *Snapshot) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSnapshotBits, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Bits))
	for _, n := range s.Nodes {
		b = protowire.AppendTag(b, fieldSnapshotNodes, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeNode(n))
	}
	return b
}

func encodeNode(n Node) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldNodeKey, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Key))
	for _, f := range n.Left {
		b = protowire.AppendTag(b, fieldNodeLeft, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFinger(f))
	}
	for _, f := range n.Right {
		b = protowire.AppendTag(b, fieldNodeRight, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFinger(f))
	}
	if len(n.Neighbors) > 0 {
		var packed []byte
		for _, k := range n.Neighbors {
			packed = protowire.AppendVarint(packed, uint64(k))
		}
		b = protowire.AppendTag(b, fieldNodeNeighbors, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

func encodeFinger(f chord.Finger) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFingerTarget, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.TargetID))
	b = protowire.AppendTag(b, fieldFingerFinal, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Chain.FinalID))
	b = protowire.AppendTag(b, fieldFingerLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Chain.Length))
	return b
}

// fields walks the fields of one message, calling fn for each. fn returns
// the number of bytes it consumed from the value, or a negative protowire
// error code. Unknown fields are skipped.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", pkg.ErrInvalidSnapshot, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", pkg.ErrInvalidSnapshot, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, out *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: expected varint, got wire type %d", pkg.ErrInvalidSnapshot, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n > 0 {
		*out = v
	}
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, out *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: expected bytes, got wire type %d", pkg.ErrInvalidSnapshot, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n > 0 {
		*out = v
	}
	return n, nil
}

// Decode parses wire bytes produced by Encode.
func Decode(b []byte) (*Snapshot, error) {
	s := &Snapshot{}
	var bits uint64
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldSnapshotBits:
			return consumeVarint(typ, v, &bits)
		case fieldSnapshotNodes:
			var raw []byte
			n, err := consumeBytes(typ, v, &raw)
			if err != nil || n < 0 {
				return n, err
			}
			node, err := decodeNode(raw)
			if err != nil {
				return 0, err
			}
			s.Nodes = append(s.Nodes, node)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if bits == 0 || bits > ring.MaxBits {
		return nil, fmt.Errorf("%w: bits %d", pkg.ErrInvalidSnapshot, bits)
	}
	s.Bits = int(bits)
	return s, nil
}

func decodeNode(b []byte) (Node, error) {
	var node Node
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldNodeKey:
			var key uint64
			n, err := consumeVarint(typ, v, &key)
			node.Key = ring.Key(key)
			return n, err
		case fieldNodeLeft, fieldNodeRight:
			var raw []byte
			n, err := consumeBytes(typ, v, &raw)
			if err != nil || n < 0 {
				return n, err
			}
			f, err := decodeFinger(raw)
			if err != nil {
				return 0, err
			}
			if num == fieldNodeLeft {
				node.Left = append(node.Left, f)
			} else {
				node.Right = append(node.Right, f)
			}
			return n, nil
		case fieldNodeNeighbors:
			var packed []byte
			n, err := consumeBytes(typ, v, &packed)
			if err != nil || n < 0 {
				return n, err
			}
			for len(packed) > 0 {
				k, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m, nil
				}
				node.Neighbors = append(node.Neighbors, ring.Key(k))
				packed = packed[m:]
			}
			return n, nil
		}
		return 0, nil
	})
	return node, err
}

func decodeFinger(b []byte) (chord.Finger, error) {
	var target, final, length uint64
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldFingerTarget:
			return consumeVarint(typ, v, &target)
		case fieldFingerFinal:
			return consumeVarint(typ, v, &final)
		case fieldFingerLength:
			return consumeVarint(typ, v, &length)
		}
		return 0, nil
	})
	if err != nil {
		return chord.Finger{}, err
	}
	return chord.Finger{
		TargetID: ring.Key(target),
		Chain:    chord.SemiChain{FinalID: ring.Key(final), Length: int(length)},
	}, nil
}

// Network rebuilds the connectivity graph of the snapshot.
func (s *Snapshot) Network() (*network.Network, error) {
	space, err := ring.NewSpace(s.Bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrInvalidSnapshot, err)
	}

	keys := make([]ring.Key, len(s.Nodes))
	for i, n := range s.Nodes {
		keys[i] = n.Key
	}
	net, err := network.New(space, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pkg.ErrInvalidSnapshot, err)
	}

	for i, n := range s.Nodes {
		for _, k := range n.Neighbors {
			j, ok := net.KeyToIndex(k)
			if !ok {
				return nil, fmt.Errorf("%w: node %s links to unknown key %s", pkg.ErrInvalidSnapshot, n.Key, k)
			}
			if err := net.Connect(i, j); err != nil {
				return nil, fmt.Errorf("%w: %w", pkg.ErrInvalidSnapshot, err)
			}
		}
	}
	return net, nil
}

// Tables rebuilds the finger table of every node, in node index order.
func (s *Snapshot) Tables() ([]*chord.NodeFingers, error) {
	space, err := ring.NewSpace(s.Bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrInvalidSnapshot, err)
	}

	tables := make([]*chord.NodeFingers, len(s.Nodes))
	for i, n := range s.Nodes {
		for _, side := range [][]chord.Finger{n.Left, n.Right} {
			for _, f := range side {
				if !space.Contains(f.TargetID) || !space.Contains(f.Chain.FinalID) {
					return nil, fmt.Errorf("%w: node %s has finger %s outside the ring", pkg.ErrInvalidSnapshot, n.Key, f.TargetID)
				}
			}
		}
		tables[i] = chord.RestoreFingers(space, n.Key, n.Left, n.Right)
	}
	return tables, nil
}

// Save encodes s to the file at path.
func Save(path string, s *Snapshot) error {
	if err := os.WriteFile(path, Encode(s), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load decodes the snapshot stored at path.
func Load(path string) (*Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Decode(b)
}
