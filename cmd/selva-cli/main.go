// Command selva-cli is a debug REPL client for selvad, grounded on the
// reference implementation's selva-cli tool: connect, type a command
// name plus whitespace-separated string arguments, see the decoded
// reply. It is not a full typed client — an argument that parses as a
// base-10 integer goes over the wire as a protocol longlong and every
// other argument as a protocol string, which covers ping/echo/lscmd and
// any command whose handler accepts string- or integer-shaped
// positional args.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/server"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:   "selva-cli",
		Short: "Debug REPL client for a running selvad instance",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "localhost:3000", "selvad address (host:port)")

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Send a single ping and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(func(c *client) error {
				return c.sendPrint("ping")
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "lscmd",
		Short: "List every command the server has registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(func(c *client) error {
				return c.sendPrint("lscmd")
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(func(c *client) error {
				return c.repl()
			})
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func withConn(fn func(*client) error) error {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer nc.Close()
	c := &client{conn: server.NewConn(nc, nil, 1<<20, 1<<30), byName: loadCommandNames(nc)}
	return fn(c)
}

type client struct {
	conn   *server.Conn
	seqno  uint32
	byName map[string]int8
}

// loadCommandNames dials a throwaway lscmd round-trip before the real
// session starts so the REPL can resolve typed-in command names to ids;
// nc is reused for the caller's own connection, so this must not
// consume any bytes beyond the one request/response it issues.
func loadCommandNames(nc net.Conn) map[string]int8 {
	names := map[string]int8{"ping": 0, "echo": 1, "lscmd": 2}
	c := server.NewConn(nc, nil, 1<<20, 1<<30)
	enc := protocol.NewEncoder()
	if err := c.WriteFrame(2, protocol.FlagFirst|protocol.FlagLast, 0, enc.Bytes()); err != nil {
		return names
	}
	h, payload, err := c.ReadFrame()
	if err != nil {
		return names
	}
	msg, _, complete, err := c.Feed(h, payload)
	if err != nil || !complete {
		return names
	}
	d := protocol.NewDecoder(msg)
	hdr, err := d.Next()
	if err != nil || hdr.Type != protocol.VArray {
		return names
	}
	for i := 0; i < hdr.ArrayLen; i += 3 {
		idV, _ := d.Next()
		nameV, _ := d.Next()
		_, _ = d.Next() // mode, unused here
		names[string(nameV.Str)] = int8(idV.Long)
	}
	return names
}

func (c *client) repl() error {
	fmt.Fprintln(os.Stdout, "selva-cli connected; type a command name and args, .help for command list, .exit to quit")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stdout, "selva> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == ".exit":
			return nil
		case line == ".help":
			for name, id := range c.byName {
				fmt.Fprintf(os.Stdout, "  %-20s id=%d\n", name, id)
			}
		default:
			fields := strings.Fields(line)
			if err := c.sendPrint(fields[0], fields[1:]...); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
		fmt.Fprint(os.Stdout, "selva> ")
	}
	return scanner.Err()
}

func (c *client) sendPrint(name string, args ...string) error {
	id, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("unknown command %q; run lscmd or .help", name)
	}
	enc := protocol.NewEncoder()
	for _, a := range args {
		if n, err := strconv.ParseInt(a, 10, 64); err == nil {
			enc.LongLong(n, false)
		} else {
			enc.String([]byte(a), false, false)
		}
	}
	c.seqno++
	if err := c.conn.WriteFrame(id, protocol.FlagFirst|protocol.FlagLast, c.seqno, enc.Bytes()); err != nil {
		return err
	}
	h, payload, err := c.conn.ReadFrame()
	if err != nil {
		return err
	}
	msg, _, complete, err := c.conn.Feed(h, payload)
	if err != nil {
		return err
	}
	if !complete {
		return fmt.Errorf("fragmented reply not supported by this client")
	}
	return printValues(os.Stdout, protocol.NewDecoder(msg), 0)
}

func printValues(w *os.File, d *protocol.Decoder, depth int) error {
	for !d.Done() {
		if err := printOne(w, d, depth); err != nil {
			return err
		}
	}
	return nil
}

func printOne(w *os.File, d *protocol.Decoder, depth int) error {
	v, err := d.Next()
	if err != nil {
		return err
	}
	indent := strings.Repeat("  ", depth)
	switch v.Type {
	case protocol.VNull:
		fmt.Fprintf(w, "%s(nil)\n", indent)
	case protocol.VError:
		fmt.Fprintf(w, "%s(error) %s: %s\n", indent, v.ErrCode, string(v.ErrMsg))
	case protocol.VDouble:
		fmt.Fprintf(w, "%s(double) %v\n", indent, v.Double)
	case protocol.VLongLong:
		fmt.Fprintf(w, "%s(integer) %d\n", indent, v.Long)
	case protocol.VString:
		fmt.Fprintf(w, "%s(string) %q\n", indent, string(v.Str))
	case protocol.VArray:
		n := v.ArrayLen
		fmt.Fprintf(w, "%s(array, %d)\n", indent, n)
		if n == protocol.ArrayPostponedLength {
			for {
				next, err := d.Next()
				if err != nil {
					return err
				}
				if next.Type == protocol.VArrayEnd {
					return nil
				}
				if err := printDecoded(w, next, depth+1); err != nil {
					return err
				}
			}
		}
		for i := 0; i < n; i++ {
			if err := printOne(w, d, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// printDecoded prints a value already read off the decoder (used inside
// the postponed-length array loop, where Next() was called by the
// caller rather than by printOne).
func printDecoded(w *os.File, v protocol.Value, depth int) error {
	indent := strings.Repeat("  ", depth)
	switch v.Type {
	case protocol.VNull:
		fmt.Fprintf(w, "%s(nil)\n", indent)
	case protocol.VDouble:
		fmt.Fprintf(w, "%s(double) %v\n", indent, v.Double)
	case protocol.VLongLong:
		fmt.Fprintf(w, "%s(integer) %d\n", indent, v.Long)
	case protocol.VString:
		fmt.Fprintf(w, "%s(string) %q\n", indent, string(v.Str))
	default:
		fmt.Fprintf(w, "%s(value type %d)\n", indent, v.Type)
	}
	return nil
}
