package xray

import (
	"errors"
	"testing"
	"time"
)

func TestParseAccessLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		network string
		ip      string
		port    uint16
		user    string
		dest    string
		inbound string
	}{
		{
			name:    "ipv4 tcp with email",
			line:    "2024/01/02 15:04:05.123456 from tcp:10.1.2.3:51000 accepted tcp:www.example.com:443 [vless-in >> direct] email: 42.alice",
			network: "tcp",
			ip:      "10.1.2.3",
			port:    51000,
			user:    "42",
			dest:    "tcp:www.example.com:443",
			inbound: "vless-in",
		},
		{
			name:    "udp without fractional seconds",
			line:    "2024/01/02 15:04:05 from udp:192.0.2.7:5353 accepted udp:1.1.1.1:53 [dns-in -> dns-out] email: 7.bob",
			network: "udp",
			ip:      "192.0.2.7",
			port:    5353,
			user:    "7",
			dest:    "udp:1.1.1.1:53",
			inbound: "dns-in",
		},
		{
			name:    "bracketed ipv6",
			line:    "2024/01/02 15:04:05.000001 from tcp:[2001:db8::1]:443 accepted tcp:example.org:80 email: 1001.carol",
			network: "tcp",
			ip:      "2001:db8::1",
			port:    443,
			user:    "1001",
			dest:    "tcp:example.org:80",
		},
		{
			name: "bare ipv6 takes the last group as port",
			line: "2024/01/02 15:04:05 from 2001:db8::5:8443 accepted tcp:example.org:80 email: 3.dan",
			ip:   "2001:db8::5",
			port: 8443,
			user: "3",
			dest: "tcp:example.org:80",
		},
		{
			name:    "no email",
			line:    "2024/01/02 15:04:05 from tcp:127.0.0.1:40000 accepted tcp:127.0.0.1:10085 [api -> api]",
			network: "tcp",
			ip:      "127.0.0.1",
			port:    40000,
			dest:    "tcp:127.0.0.1:10085",
			inbound: "api",
		},
		{
			name:    "bracketed ipv6 destination",
			line:    "2024/01/02 15:04:05 from tcp:1.2.3.4:5000 accepted tcp:[2001:db8::2]:443 [in >> out] email: 42.a",
			network: "tcp",
			ip:      "1.2.3.4",
			port:    5000,
			user:    "42",
			dest:    "tcp:[2001:db8::2]:443",
			inbound: "in",
		},
		{
			name:    "route glued to destination",
			line:    "2024/01/02 15:04:05 from tcp:1.2.3.4:5000 accepted tcp:[2001:db8::2]:443[in >> out] email: 42.a",
			network: "tcp",
			ip:      "1.2.3.4",
			port:    5000,
			user:    "42",
			dest:    "tcp:[2001:db8::2]:443",
			inbound: "in",
		},
		{
			name:    "ipv4 mapped address is unmapped",
			line:    "2024/01/02 15:04:05 from tcp:[::ffff:198.51.100.4]:1234 accepted tcp:a.b:443 email: 5",
			network: "tcp",
			ip:      "198.51.100.4",
			port:    1234,
			user:    "5",
			dest:    "tcp:a.b:443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseAccessLine(tt.line)
			if err != nil {
				t.Fatalf("ParseAccessLine: %v", err)
			}
			if rec.Network != tt.network {
				t.Errorf("network = %q, want %q", rec.Network, tt.network)
			}
			if rec.SourceIP != tt.ip {
				t.Errorf("ip = %q, want %q", rec.SourceIP, tt.ip)
			}
			if rec.SourcePort != tt.port {
				t.Errorf("port = %d, want %d", rec.SourcePort, tt.port)
			}
			if rec.UserID != tt.user {
				t.Errorf("user = %q, want %q", rec.UserID, tt.user)
			}
			if rec.Destination != tt.dest {
				t.Errorf("destination = %q, want %q", rec.Destination, tt.dest)
			}
			if rec.Inbound != tt.inbound {
				t.Errorf("inbound = %q, want %q", rec.Inbound, tt.inbound)
			}
			if rec.Timestamp.IsZero() {
				t.Error("timestamp is zero")
			}
		})
	}
}

func TestParseAccessLineTimestamp(t *testing.T) {
	rec, err := ParseAccessLine("2024/03/09 08:07:06.5 from 10.0.0.1:80 accepted tcp:x:1 email: 1.a")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 9, 8, 7, 6, 500_000_000, time.Local)
	if !rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %s, want %s", rec.Timestamp, want)
	}
}

func TestParseAccessLineRejected(t *testing.T) {
	rec, err := ParseAccessLine("2024/01/02 15:04:05 from tcp:10.0.0.9:1000 rejected  proxy/vless/encoding: invalid request user id")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Rejected {
		t.Error("expected rejected record")
	}
	if rec.UserID != "" {
		t.Errorf("user = %q, want empty", rec.UserID)
	}
}

func TestParseAccessLineFailures(t *testing.T) {
	lines := []string{
		"",
		"garbage",
		"2024/01/02 15:04:05 accepted tcp:example.com:443 email: 1.a",
		"not-a-date 15:04:05 from tcp:1.2.3.4:80 accepted tcp:x:1",
		"2024/01/02 15:04:05 from tcp:example.com:80 accepted tcp:x:1",
		"2024/01/02 15:04:05 from tcp:1.2.3.4 accepted tcp:x:1",
		"2024/01/02 15:04:05 from tcp:1.2.3.4:http accepted tcp:x:1",
		"2024/01/02 15:04:05 from tcp:1.2.3.4:70000 accepted tcp:x:1",
		"2024/01/02 15:04:05 from tcp:[2001:db8::1 accepted tcp:x:1",
		"2024/01/02 15:04:05 from",
		"2024/01/02 15:04:05 fromage 1.2.3.4:80",
	}
	for _, line := range lines {
		if _, err := ParseAccessLine(line); !errors.Is(err, ErrParseFailure) {
			t.Errorf("ParseAccessLine(%q) err = %v, want ErrParseFailure", line, err)
		}
	}
}
