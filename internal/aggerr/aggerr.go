// Package aggerr is the sentinel-error catalogue spec.md §7 describes: a
// small, repo-local vocabulary of config/transient/fatal/protocol/operator
// error kinds. A dedicated library would be overkill for eight
// errors.Is-comparable values used only within this repo.
package aggerr

import "errors"

// Config errors: surfaced to stderr at startup; abort the process.
var (
	ErrMissingPMURL    = errors.New("aggerr: missing PM url")
	ErrUnparseablePMURL = errors.New("aggerr: unparseable PM url")
)

// Connection errors: returned from internal/radioclient and internal/wsclient.
var (
	ErrMissingDestination     = errors.New("aggerr: missing destination host")
	ErrMissingDestinationPort = errors.New("aggerr: missing destination port")
	ErrCouldNotConnect        = errors.New("aggerr: could not connect")
	ErrNotConnected           = errors.New("aggerr: not connected")
	ErrSocketError            = errors.New("aggerr: socket error")
)

// Protocol errors: logged at debug, offending data dropped, state preserved.
var (
	ErrInvalidMessage = errors.New("aggerr: invalid message")
)

// Kind names the five error classes. The control dispatcher formats its
// replies without it; no other package references it.
type Kind int

const (
	KindConfig Kind = iota
	KindTransient
	KindFatal
	KindProtocol
	KindOperator
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindProtocol:
		return "protocol"
	case KindOperator:
		return "operator"
	default:
		return "unknown"
	}
}
