package gputils

// Validatable is implemented by structures that can run internal consistency
// checks on themselves.
type Validatable interface {
	Validate() error
}
