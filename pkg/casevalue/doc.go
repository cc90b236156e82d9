// Package casevalue resolves time sliced case values across the Employee,
// Company, National and Global tiers.
//
// A value is visible when it was created on or before the evaluation date and
// not cancelled as of it. It is valid at a moment when Start <= moment < End,
// either bound may be open. The first tier with a valid value wins; within a
// tier the most recently created value wins.
package casevalue
