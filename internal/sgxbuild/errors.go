package sgxbuild

import "errors"

// Every failure aborts the invocation. Callers wrap one of these with
// fmt.Errorf("%w: ...") so the kind survives for errors.Is.
var (
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrUnknownProfile       = errors.New("unknown profile")
	ErrPathResolution       = errors.New("path resolution failed")
	ErrParse                = errors.New("parse error")
	ErrExternalTool         = errors.New("external tool failed")
	ErrLookup               = errors.New("flag lookup failed")
	ErrUnsupportedArch      = errors.New("unsupported arch")
)
