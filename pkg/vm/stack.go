package vm

// DefaultMaxStackLen is the default capacity of the data and return stacks.
const DefaultMaxStackLen = 2000

// Stack is a bounded LIFO of values. Pushing past the limit or popping an
// empty stack fails; nothing is ever clamped.
type Stack struct {
	name   string
	vals   []Value
	maxLen int
}

// NewStack creates an empty stack holding at most maxLen values.
func NewStack(name string, maxLen int) *Stack {
	return &Stack{
		name:   name,
		maxLen: maxLen,
	}
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return len(s.vals) }

// IsEmpty reports whether the stack is empty.
func (s *Stack) IsEmpty() bool { return len(s.vals) == 0 }

// Top returns the topmost value.
func (s *Stack) Top() (Value, bool) {
	if len(s.vals) == 0 {
		return Value{}, false
	}
	return s.vals[len(s.vals)-1], true
}

// Push pushes v.
func (s *Stack) Push(v Value) error {
	if len(s.vals) >= s.maxLen {
		return NewError(ErrorStackOverflow, "%s stack overflow: limit %d", s.name, s.maxLen)
	}
	s.vals = append(s.vals, v)
	return nil
}

// Pop removes and returns the topmost value.
func (s *Stack) Pop() (Value, error) {
	if len(s.vals) == 0 {
		return Value{}, NewError(ErrorStackUnderflow, "%s stack underflow", s.name)
	}
	last := len(s.vals) - 1
	v := s.vals[last]
	s.vals[last] = Value{}
	s.vals = s.vals[:last]
	return v, nil
}

// Truncate drops values above n. Growing the stack is an underflow.
func (s *Stack) Truncate(n int) error {
	if n < 0 || n > len(s.vals) {
		return NewError(ErrorStackUnderflow, "%s stack: cannot truncate %d values to %d", s.name, len(s.vals), n)
	}
	clear(s.vals[n:])
	s.vals = s.vals[:n]
	return nil
}

// Get returns the value at absolute index i counted from the bottom.
func (s *Stack) Get(i int) (Value, bool) {
	if i < 0 || i >= len(s.vals) {
		return Value{}, false
	}
	return s.vals[i], true
}

// Set replaces the value at absolute index i.
func (s *Stack) Set(i int, v Value) bool {
	if i < 0 || i >= len(s.vals) {
		return false
	}
	s.vals[i] = v
	return true
}

// Values returns a copy of the stack contents, bottom first.
func (s *Stack) Values() []Value {
	r := make([]Value, len(s.vals))
	copy(r, s.vals)
	return r
}
