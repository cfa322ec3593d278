package models

// DetailResult is the outcome of one program detail fetch.
// Exactly one of Program and Err is set.
type DetailResult struct {
	ProgramID string
	Program   *Program
	Err       error
}

// Succeeded wraps a fetched program.
func Succeeded(p Program) DetailResult {
	return DetailResult{ProgramID: p.MeoProgramID, Program: &p}
}

// Failed records a fetch failure for programID.
func Failed(programID string, err error) DetailResult {
	return DetailResult{ProgramID: programID, Err: err}
}

// OK reports whether the fetch produced a program.
func (r DetailResult) OK() bool {
	return r.Err == nil && r.Program != nil
}
