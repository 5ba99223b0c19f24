package model

// Mode is the dialog mode a form is opened in.
type Mode string

const (
	ModeCreate     Mode = "create"
	ModeEdit       Mode = "edit"
	ModeProperties Mode = "properties"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// IsValid checks whether the mode is a known value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeCreate, ModeEdit, ModeProperties:
		return true
	}
	return false
}

// Modes is shorthand for building a Field.Mode list.
func Modes(ms ...Mode) []Mode {
	return ms
}

// CacheLevel is the tree scope at which fetched options stay valid.
type CacheLevel string

const (
	CacheServer   CacheLevel = "server"
	CacheDatabase CacheLevel = "database"
	CacheSchema   CacheLevel = "schema"
)

// IsValid checks whether the cache level is a known value.
func (l CacheLevel) IsValid() bool {
	switch l {
	case CacheServer, CacheDatabase, CacheSchema:
		return true
	}
	return false
}

// Phase is the edit lifecycle of a field or collection row. Validation
// messages are only shown once a field has reached Validated.
type Phase int

const (
	Pristine Phase = iota
	Dirty
	Validated
)

func (p Phase) String() string {
	switch p {
	case Pristine:
		return "pristine"
	case Dirty:
		return "dirty"
	case Validated:
		return "validated"
	}
	return "unknown"
}
