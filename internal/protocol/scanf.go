package protocol

import (
	"github.com/selvadb/selva/internal/selvaerr"
)

// Scanf destructures a selva_proto value stream against a printf-like
// format string, matching spec.md §4.1's `scanf(buf, fmt, …)` contract:
//
//	%lld   -> *int64
//	%lf    -> *float64
//	%s     -> *[]byte  (whole string value)
//	%p     -> **Value  (raw passthrough, caller inspects Type)
//	%.*s   -> *[]byte  (whole string value, like %s; no length arg is
//	          consumed and no bound is applied)
//	%{     -> *int     (reads an Array header and stores its length,
//	          ArrayPostponedLength when postponed; the elements are
//	          left for the verbs that follow)
//	%}     -> no-op; nothing is checked and no VArrayEnd is consumed.
//	%,     -> no-op separator, purely cosmetic in the format string.
//
// Command handlers use Scanf to keep argument parsing terse, exactly as
// the reference selva_proto_scanf.c collaborator does for C call sites.
func Scanf(d *Decoder, format string, args ...any) error {
	ai := 0
	next := func() any {
		if ai >= len(args) {
			return nil
		}
		a := args[ai]
		ai++
		return a
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			i++
			continue
		}
		i++
		if i >= len(format) {
			return selvaerr.New(selvaerr.EINVAL, "scanf: trailing %%")
		}
		switch format[i] {
		case 'l':
			// %lld or %lf
			if i+2 < len(format) && format[i+1] == 'l' && format[i+2] == 'd' {
				i += 3
				v, err := d.Next()
				if err != nil {
					return err
				}
				if v.Type != VLongLong {
					return selvaerr.New(selvaerr.EINVAL, "scanf: expected longlong, got type %d", v.Type)
				}
				if dst, ok := next().(*int64); ok && dst != nil {
					*dst = v.Long
				}
			} else if i+1 < len(format) && format[i+1] == 'f' {
				i += 2
				v, err := d.Next()
				if err != nil {
					return err
				}
				if v.Type != VDouble {
					return selvaerr.New(selvaerr.EINVAL, "scanf: expected double, got type %d", v.Type)
				}
				if dst, ok := next().(*float64); ok && dst != nil {
					*dst = v.Double
				}
			} else {
				return selvaerr.New(selvaerr.EINVAL, "scanf: bad format near %%l")
			}
		case 's':
			i++
			v, err := d.Next()
			if err != nil {
				return err
			}
			if v.Type != VString {
				return selvaerr.New(selvaerr.EINVAL, "scanf: expected string, got type %d", v.Type)
			}
			if dst, ok := next().(*[]byte); ok && dst != nil {
				*dst = v.Str
			}
		case 'p':
			i++
			v, err := d.Next()
			if err != nil {
				return err
			}
			if dst, ok := next().(**Value); ok && dst != nil {
				vv := v
				*dst = &vv
			}
		case '.':
			// %.*s : bounded string, length comes from the preceding arg
			if i+2 >= len(format) || format[i+1] != '*' || format[i+2] != 's' {
				return selvaerr.New(selvaerr.EINVAL, "scanf: only %%.*s supported after %%.")
			}
			i += 3
			v, err := d.Next()
			if err != nil {
				return err
			}
			if v.Type != VString {
				return selvaerr.New(selvaerr.EINVAL, "scanf: expected string, got type %d", v.Type)
			}
			if dst, ok := next().(*[]byte); ok && dst != nil {
				*dst = v.Str
			}
		case '{':
			i++
			// Array start: consume the header, leave element decoding to
			// the caller via subsequent format verbs until %}.
			v, err := d.Next()
			if err != nil {
				return err
			}
			if v.Type != VArray {
				return selvaerr.New(selvaerr.EINVAL, "scanf: expected array, got type %d", v.Type)
			}
			if dst, ok := next().(*int); ok && dst != nil {
				*dst = v.ArrayLen
			}
		case '}':
			i++
			// Array end: nothing to verify for fixed-length arrays;
			// postponed-length arrays must see VArrayEnd explicitly.
		case ',':
			i++
		default:
			return selvaerr.New(selvaerr.EINVAL, "scanf: unknown verb %%%c", format[i])
		}
	}
	return nil
}
