package models

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Confirmed approves unconditionally. Use it when approval was collected out
// of band, e.g. a request that carries confirm=true.
var Confirmed Confirmer = ConfirmFunc(func(string) bool { return true })
