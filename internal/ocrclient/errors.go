package ocrclient

import (
	"errors"
	"fmt"
)

// Failure classes a JobClient may report.
const (
	ClassTransport = "transport"
	ClassAuth      = "auth"
	ClassRemote    = "remote"
)

// CodeNotFound is reported for handles the service does not know.
const CodeNotFound = "E_NOT_FOUND"

// RemoteError is the structured failure returned by a JobClient.
type RemoteError struct {
	Class   string
	Code    string
	Message string
	Detail  string
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s error %s: %s (%s)", e.Class, e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s error %s: %s", e.Class, e.Code, e.Message)
}

// Normalize reduces any adapter error to a (code, message, detail) triple.
func Normalize(err error) (code, message, detail string) {
	if err == nil {
		return "", "", ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code, re.Message, re.Class
	}
	return "TRANSPORT", err.Error(), ClassTransport
}

// IsNotFound reports whether err says the job no longer exists.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodeNotFound
}
