package vm

import "errors"

// BlockKind identifies what a block stack entry protects.
type BlockKind uint8

const (
	BlockLoop    BlockKind = iota // loop needing cleanup on break
	BlockExcept                   // try/except region
	BlockFinally                  // try/finally region
	BlockHandler                  // an exception handler is running
)

var blockKindNames = [...]string{"loop", "except", "finally", "handler"}

func (k BlockKind) String() string {
	if int(k) < len(blockKindNames) {
		return blockKindNames[k]
	}
	return "unknown"
}

// acceptsFailure reports whether unwinding stops at a block of this kind.
func (k BlockKind) acceptsFailure() bool {
	return k == BlockExcept || k == BlockFinally
}

// DefaultBlockDepth is the block stack capacity used when a code unit does
// not declare one.
const DefaultBlockDepth = 20

// ErrBlockStackOverflow is returned when a code unit nests protected regions
// deeper than it declared.
var ErrBlockStackOverflow = errors.New("block stack overflow")

// Block is one protected-region marker.
type Block struct {
	Kind    BlockKind
	Handler int // instruction index of the handler or loop exit
	Level   int // operand-stack depth to restore on unwind
}

// BlockStack is a fixed-capacity stack of blocks.
type BlockStack struct {
	entries []Block
	depth   int
}

// NewBlockStack returns a block stack that holds at most capacity entries.
func NewBlockStack(capacity int) *BlockStack {
	if capacity <= 0 {
		capacity = DefaultBlockDepth
	}
	return &BlockStack{entries: make([]Block, capacity)}
}

// Push registers a protected region.
func (s *BlockStack) Push(kind BlockKind, handler, level int) error {
	if s.depth >= len(s.entries) {
		return ErrBlockStackOverflow
	}
	s.entries[s.depth] = Block{Kind: kind, Handler: handler, Level: level}
	s.depth++
	return nil
}

// Pop removes and returns the innermost block.
func (s *BlockStack) Pop() (Block, bool) {
	if s.depth == 0 {
		return Block{}, false
	}
	s.depth--
	b := s.entries[s.depth]
	s.entries[s.depth] = Block{}
	return b, true
}

// Top returns the innermost block without removing it.
func (s *BlockStack) Top() (Block, bool) {
	if s.depth == 0 {
		return Block{}, false
	}
	return s.entries[s.depth-1], true
}

// Len returns the number of active blocks.
func (s *BlockStack) Len() int { return s.depth }

// Cap returns the fixed capacity.
func (s *BlockStack) Cap() int { return len(s.entries) }

// Reset discards every block.
func (s *BlockStack) Reset() {
	for s.depth > 0 {
		s.Pop()
	}
}
