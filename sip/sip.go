// Package sip implements the SIP message grammar, the header model and the
// wire codec (RFC 3261 subset) used by the rest of this module.
package sip

import "strings"

// RequestMethod is a SIP request method token.
type RequestMethod string

func (m RequestMethod) String() string { return string(m) }

const (
	INVITE   RequestMethod = "INVITE"
	ACK      RequestMethod = "ACK"
	CANCEL   RequestMethod = "CANCEL"
	BYE      RequestMethod = "BYE"
	REGISTER RequestMethod = "REGISTER"
	OPTIONS  RequestMethod = "OPTIONS"
	INFO     RequestMethod = "INFO"
	NOTIFY   RequestMethod = "NOTIFY"
)

// StatusCode is a SIP response status code, 1xx-6xx.
type StatusCode int

const (
	StatusTrying                StatusCode = 100
	StatusRinging               StatusCode = 180
	StatusSessionProgress        StatusCode = 183
	StatusOK                    StatusCode = 200
	StatusUnauthorized          StatusCode = 401
	StatusProxyAuthRequired     StatusCode = 407
	StatusRequestTerminated     StatusCode = 487
	StatusBusyHere              StatusCode = 486
)

// SupportedMethods lists the request methods this UA answers or issues,
// used to populate the Allow header on OPTIONS/NOTIFY responses.
var SupportedMethods = []RequestMethod{INVITE, ACK, CANCEL, BYE, REGISTER, OPTIONS, INFO, NOTIFY}

func AllowHeaderValue() string {
	names := make([]string, len(SupportedMethods))
	for i, m := range SupportedMethods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// HeaderToLower lowercases a header name the way this package canonicalizes
// storage keys; ASCII-only, matching RFC 3261 header token syntax.
func HeaderToLower(name string) string {
	return strings.ToLower(name)
}
