package cli

// SecureBytes holds secret material that must not outlive its use. The
// CLI reads private keys and admin tokens into one of these so the
// bytes can be wiped once they reach the keyring.
type SecureBytes struct {
	data []byte
}

// NewSecureBytes wraps data without copying it. The caller hands over
// ownership and must zero through the wrapper, not the original slice.
func NewSecureBytes(data []byte) *SecureBytes {
	return &SecureBytes{data: data}
}

// Bytes returns the underlying slice. It shares memory with the
// wrapper; Zero clears it too.
func (s *SecureBytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.data
}

// String copies the data into a string. The copy cannot be zeroed, so
// callers should keep its lifetime short.
func (s *SecureBytes) String() string {
	if s == nil || s.data == nil {
		return ""
	}
	return string(s.data)
}

// Zero overwrites the secret in place. Safe to call repeatedly and on
// nil.
func (s *SecureBytes) Zero() {
	if s == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
}

// Len reports the secret's length in bytes.
func (s *SecureBytes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// IsEmpty reports whether there is any secret material at all.
func (s *SecureBytes) IsEmpty() bool {
	return s == nil || len(s.data) == 0
}
