//go:build !debug_foundry

package gputils

// DebugBuild reports whether the module was built with the debug_foundry tag.
const DebugBuild = false

// DebugAssert panics with msg if cond is false. Usage-contract violations are
// fatal in debug builds. This method no-ops unless the debug_foundry build tag
// is present.
func DebugAssert(cond bool, msg string) {
}

// DebugAssertf is DebugAssert with a format string.
// This method no-ops unless the debug_foundry build tag is present.
func DebugAssertf(cond bool, format string, args ...interface{}) {
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_foundry build tag
// is present.
func DebugValidate(validatable Validatable) {
}
