package pkg

import "errors"

var (
	// ErrKeySpaceTooSmall is returned when n nodes would likely collide in 2^L keys
	ErrKeySpaceTooSmall = errors.New("key space too small for node count")

	// ErrEmptyNetwork is returned when a network has no nodes
	ErrEmptyNetwork = errors.New("network is empty")

	// ErrKeyCollision is returned when two nodes end up with the same ring key
	ErrKeyCollision = errors.New("ring key collision")

	// ErrNotConnected is returned when the connectivity graph has more than one component
	ErrNotConnected = errors.New("network not connected")

	// ErrUnknownKey is returned when a ring key does not belong to any node
	ErrUnknownKey = errors.New("unknown ring key")

	// ErrAlreadyIndexed is returned when a chain set is modified or indexed after indexing
	ErrAlreadyIndexed = errors.New("chain set already indexed")

	// ErrInvalidChain is returned when inserting a chain with no final key or a negative length
	ErrInvalidChain = errors.New("invalid chain")

	// ErrEmptyChainSet is returned when indexing a chain set with no entries
	ErrEmptyChainSet = errors.New("chain set is empty")

	// ErrNoPath is returned when greedy routing cannot reach the destination
	ErrNoPath = errors.New("no path")

	// ErrValueNotFound is returned when a node stores no live value under a key
	ErrValueNotFound = errors.New("value not found")

	// ErrStoreClosed is returned when a value store is used after Close
	ErrStoreClosed = errors.New("value store closed")

	// ErrInvalidSnapshot is returned when snapshot bytes cannot be decoded
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
