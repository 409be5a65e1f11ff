package xray

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// ErrParseFailure is returned by ParseAccessLine for lines that do not carry a
// timestamp and a numeric source endpoint.
var ErrParseFailure = errors.New("unparseable access log line")

// accessTimeLayout matches Xray's access log prefix; fractional seconds are optional.
const accessTimeLayout = "2006/01/02 15:04:05.999999999"

// ConnectionRecord is one parsed access log event.
type ConnectionRecord struct {
	Timestamp   time.Time
	Network     string // "tcp", "udp" or empty when Xray omits the prefix
	SourceIP    string
	SourcePort  uint16
	UserID      string // email prefix before the first '.', may be empty
	Email       string
	Destination string
	Inbound     string
	Outbound    string
	Rejected    bool
}

// ParseAccessLine converts one Xray access log line into a ConnectionRecord.
//
//	2024/01/02 15:04:05.123456 from tcp:1.2.3.4:5678 accepted tcp:example.com:443 [vless-in >> direct] email: 42.alice
//
// Lines without an email field are still returned with an empty UserID.
func ParseAccessLine(line string) (ConnectionRecord, error) {
	var rec ConnectionRecord

	line = strings.TrimSpace(line)
	date, rest, ok := strings.Cut(line, " ")
	if !ok {
		return rec, parseFailure("no timestamp")
	}
	clock, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return rec, parseFailure("no timestamp")
	}
	ts, err := time.ParseInLocation(accessTimeLayout, date+" "+clock, time.Local)
	if err != nil {
		return rec, parseFailure("bad timestamp %q", date+" "+clock)
	}
	rec.Timestamp = ts

	endpoint, after, ok := tokenAfter(rest, "from")
	if !ok {
		return rec, parseFailure("no source endpoint")
	}
	if err := rec.parseSource(endpoint); err != nil {
		return rec, err
	}

	if dest, tail, ok := tokenAfter(after, "accepted"); ok {
		rec.Destination = trimDestination(dest)
		rec.Inbound, rec.Outbound = parseRoute(dest[len(rec.Destination):] + tail)
	} else if dest, tail, ok := tokenAfter(after, "rejected"); ok {
		rec.Destination = trimDestination(dest)
		rec.Inbound, rec.Outbound = parseRoute(dest[len(rec.Destination):] + tail)
		rec.Rejected = true
	}

	if _, tail, ok := strings.Cut(after, "email:"); ok {
		fields := strings.Fields(tail)
		if len(fields) > 0 {
			rec.Email = fields[0]
			rec.UserID, _, _ = strings.Cut(fields[0], ".")
		}
	}
	return rec, nil
}

func (r *ConnectionRecord) parseSource(endpoint string) error {
	switch {
	case strings.HasPrefix(endpoint, "tcp:"):
		r.Network = "tcp"
		endpoint = endpoint[len("tcp:"):]
	case strings.HasPrefix(endpoint, "udp:"):
		r.Network = "udp"
		endpoint = endpoint[len("udp:"):]
	}

	var host, port string
	if strings.HasPrefix(endpoint, "[") {
		end := strings.IndexByte(endpoint, ']')
		if end < 0 || !strings.HasPrefix(endpoint[end+1:], ":") {
			return parseFailure("malformed endpoint %q", endpoint)
		}
		host, port = endpoint[1:end], endpoint[end+2:]
	} else {
		// IPv6 literals carry colons too, the port is the last group
		i := strings.LastIndexByte(endpoint, ':')
		if i <= 0 {
			return parseFailure("malformed endpoint %q", endpoint)
		}
		host, port = endpoint[:i], endpoint[i+1:]
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return parseFailure("bad source ip %q", host)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return parseFailure("bad source port %q", port)
	}
	r.SourceIP = addr.Unmap().String()
	r.SourcePort = uint16(p)
	return nil
}

// tokenAfter finds the first standalone occurrence of word in s and returns the
// whitespace-delimited token following it plus the remainder of s.
func tokenAfter(s, word string) (token, rest string, ok bool) {
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], word)
		if i < 0 {
			return "", "", false
		}
		i += off
		end := i + len(word)
		if (i == 0 || s[i-1] == ' ') && end < len(s) && s[end] == ' ' {
			fields := strings.Fields(s[end:])
			if len(fields) == 0 {
				return "", "", false
			}
			rest = s[strings.Index(s[end:], fields[0])+end+len(fields[0]):]
			return fields[0], rest, true
		}
		off = end
	}
	return "", "", false
}

// trimDestination cuts a route section glued to the destination, keeping a
// bracketed IPv6 host such as "tcp:[2001:db8::2]:443" intact.
func trimDestination(dest string) string {
	start := 0
	if network, _, ok := strings.Cut(dest, ":"); ok && (network == "tcp" || network == "udp") {
		start = len(network) + 1
	}
	if strings.HasPrefix(dest[start:], "[") {
		if end := strings.IndexByte(dest[start:], ']'); end >= 0 {
			start += end + 1
		}
	}
	if i := strings.IndexByte(dest[start:], '['); i >= 0 {
		dest = dest[:start+i]
	}
	return dest
}

// parseRoute reads the "[inbound >> outbound]" or "[inbound -> outbound]" section.
func parseRoute(s string) (inbound, outbound string) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", ""
	}
	end := strings.IndexByte(s[start:], ']')
	if end < 0 {
		return "", ""
	}
	route := s[start+1 : start+end]
	for _, sep := range []string{">>", "->"} {
		if in, out, ok := strings.Cut(route, sep); ok {
			return strings.TrimSpace(in), strings.TrimSpace(out)
		}
	}
	return strings.TrimSpace(route), ""
}

func parseFailure(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrParseFailure, fmt.Sprintf(format, a...))
}
