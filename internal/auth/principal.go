package auth

// Principal is the identity a session authenticated as. It is a comparable
// value: two principals are equal exactly when their names are, so it works
// as a map key for lookups and audit trails. It grants nothing by itself.
type Principal struct {
	name string
}

// NewPrincipal returns the principal for name.
func NewPrincipal(name string) Principal {
	return Principal{name: name}
}

// Name returns the username.
func (p Principal) Name() string { return p.name }

// IsZero reports whether p is the zero Principal (no identity).
func (p Principal) IsZero() bool { return p.name == "" }

func (p Principal) String() string {
	return "Principal[" + p.name + "]"
}
