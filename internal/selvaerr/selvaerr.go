// Package selvaerr defines the Selva error code taxonomy (spec.md §7).
//
// Selva functions never use panic/recover for expected failure paths;
// they return a Code (or an *Error wrapping one) the way the reference
// implementation returns negative ints. github.com/pkg/errors is used at
// subsystem boundaries so a Code can carry a stack trace back to the
// command dispatcher without losing its identity (errors.As recovers the
// wrapped *Error, which CodeOf and MessageOf below rely on).
package selvaerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a 16-bit negative Selva error code, mirroring the wire
// representation described in spec.md §6.
type Code int16

// Error codes. Values are stable once assigned: they cross the wire.
const (
	ENOENT Code = -(iota + 1)
	EINVAL
	ENOMEM
	ENOTSUP
	EINTYPE
	EGENERAL
	EEXIST
	ETRUNC
	ETRMAX
	ENOBUFS
	EBADMSG
	EBADF
	ECONNRESET

	HierarchyENOENT
	HierarchyEINVAL
	HierarchyETRMAX
	HierarchyENOMEM
	HierarchyENOTSUP

	RPNECOMP
	RPNENOMEM
	RPNNOTSUP
	RPNILLOPC
	RPNILLOPN
	RPNBADSTK
	RPNTYPE
	RPNBNDS
	RPNNPE
	RPNNAN
	RPNDIV

	// rpnBreak is the internal control signal for modal operators
	// (P/Q). It must never surface to a caller.
	rpnBreak
)

var names = map[Code]string{
	ENOENT:          "ENOENT",
	EINVAL:          "EINVAL",
	ENOMEM:          "ENOMEM",
	ENOTSUP:         "ENOTSUP",
	EINTYPE:         "EINTYPE",
	EGENERAL:        "EGENERAL",
	EEXIST:          "EEXIST",
	ETRUNC:          "ETRUNC",
	ETRMAX:          "ETRMAX",
	ENOBUFS:         "ENOBUFS",
	EBADMSG:         "EBADMSG",
	EBADF:           "EBADF",
	ECONNRESET:      "ECONNRESET",
	HierarchyENOENT:  "HIERARCHY_ENOENT",
	HierarchyEINVAL:  "HIERARCHY_EINVAL",
	HierarchyETRMAX:  "HIERARCHY_ETRMAX",
	HierarchyENOMEM:  "HIERARCHY_ENOMEM",
	HierarchyENOTSUP: "HIERARCHY_ENOTSUP",
	RPNECOMP:  "RPN_ECOMP",
	RPNENOMEM: "RPN_ENOMEM",
	RPNNOTSUP: "RPN_NOTSUP",
	RPNILLOPC: "RPN_ILLOPC",
	RPNILLOPN: "RPN_ILLOPN",
	RPNBADSTK: "RPN_BADSTK",
	RPNTYPE:   "RPN_TYPE",
	RPNBNDS:   "RPN_BNDS",
	RPNNPE:    "RPN_NPE",
	RPNNAN:    "RPN_NAN",
	RPNDIV:    "RPN_DIV",
	rpnBreak:  "RPN_BREAK",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("ECODE(%d)", int16(c))
}

// IsBreak reports whether c is the internal RPN modal-operator control
// signal. Callers that see this returned from anything but the rpn
// package have a bug.
func (c Code) IsBreak() bool { return c == rpnBreak }

// Break is the sentinel non-error used by rpn's P/Q operators.
func Break() error { return &Error{Code: rpnBreak, Msg: "break"} }

// Error pairs a Code with a human message, matching the wire error
// value described in spec.md §4.1 (`error(code,msg)`).
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an *Error, wrapped with a stack trace via pkg/errors so
// the dispatcher can log an origin even though the wire reply only ever
// carries code+message.
func New(code Code, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// CodeOf extracts the Selva Code from err, defaulting to EGENERAL if err
// does not wrap an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return EGENERAL
}

// MessageOf extracts the human message, falling back to err.Error().
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Msg
	}
	return err.Error()
}
