// Package cases runs the case scripts of a derived regulation set.
//
// A Set holds the fields of one case as entered. Available decides whether a
// case is offered, Build completes a set and Validate checks it against the
// derived case fields and the validate script. Relation scripts copy and
// check values between a source and a target case.
package cases
