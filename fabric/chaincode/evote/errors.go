package main

import (
	"errors"
	"fmt"
)

/*
Error taxonomy.

Every failure carries a stable machine-readable code so the gateway can map
it without parsing prose. All errors abort the whole transaction; the peer
guarantees no partial writes survive, so there is no recoverable class.
*/

type errCode string

const (
	codeAlreadyExists        errCode = "ALREADY_EXISTS"
	codeNotFound             errCode = "NOT_FOUND"
	codeInvalidCredentials   errCode = "INVALID_CREDENTIALS"
	codeInvalidTransition    errCode = "INVALID_TRANSITION"
	codeAlreadyVoted         errCode = "ALREADY_VOTED"
	codeSingletonViolation   errCode = "SINGLETON_VIOLATION"
	codeElectionNotActive    errCode = "ELECTION_NOT_ACTIVE"
	codeDuplicateApplication errCode = "DUPLICATE_APPLICATION"
	codeAlreadyMember        errCode = "ALREADY_MEMBER"
	codeInvalidArgument      errCode = "INVALID_ARGUMENT"
)

type contractError struct {
	code errCode
	msg  string
}

func (e *contractError) Error() string { return string(e.code) + ": " + e.msg }

// errf builds a coded contract error.
func errf(code errCode, format string, args ...any) error {
	return &contractError{code: code, msg: fmt.Sprintf(format, args...)}
}

// hasCode reports whether err carries the given code.
func hasCode(err error, code errCode) bool {
	var ce *contractError
	if errors.As(err, &ce) {
		return ce.code == code
	}
	return false
}
