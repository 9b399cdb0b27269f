package common

//go:generate go run github.com/dmarkham/enumer -json -type Status -trimprefix Status

// Status of a remote acquisition job
type Status int

const (
	StatusPENDING Status = iota
	StatusRUNNING
	StatusSUCCEEDED
	StatusFAILED
)

// Terminal returns true if the job will no longer change state
func (s Status) Terminal() bool {
	return s == StatusSUCCEEDED || s == StatusFAILED
}
