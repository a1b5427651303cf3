package core

// SliceResult is the tagged outcome of one engine invocation. Exactly one of
// Outputs/Err is meaningful; WorkDir is set on every path where the engine
// working directory was created so the caller can clean it up.
type SliceResult struct {
	Outputs []string
	WorkDir string
	Err     *SliceError
}

func (r SliceResult) Ok() bool {
	return r.Err == nil
}
