package rpc

import "testing"

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in      string
		network Network
		out     string
	}{
		{"/tmp/x.sock", Unix, "/tmp/x.sock"},
		{"127.0.0.1:9876", TCP, "127.0.0.1:9876"},
		{"[::1]:9500", TCP, "[::1]:9500"},
		{"tcp://localhost:9500", TCP, "localhost:9500"},
		{"local.sock", Unix, "local.sock"},
		{"unix:///var/run/omnish.sock", Unix, "/var/run/omnish.sock"},
	}
	for _, c := range cases {
		network, out := ParseAddr(c.in)
		if network != c.network || out != c.out {
			t.Errorf("ParseAddr(%q) = (%v, %q), want (%v, %q)", c.in, network, out, c.network, c.out)
		}
	}
}
