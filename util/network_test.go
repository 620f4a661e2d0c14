package util

import (
	"net"
	"testing"
)

func TestHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     net.Addr
		wantHost string
		wantPort int
	}{
		{"tcp v4", &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 5432}, "10.0.0.7", 5432},
		{"tcp v6", &net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}, "::1", 80},
		{"udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 53}, "127.0.0.1", 53},
		{"unix", &net.UnixAddr{Name: "/tmp/s.sock", Net: "unix"}, "/tmp/s.sock", 0},
		{"nil", nil, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port := HostPort(tt.addr)
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %d), want (%q, %d)", host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestFormatAddr(t *testing.T) {
	if got := FormatAddr("1.2.3.4", 22); got != "1.2.3.4:22" {
		t.Errorf("got %q, want %q", got, "1.2.3.4:22")
	}
	if got := FormatAddr("::1", 443); got != "[::1]:443" {
		t.Errorf("got %q, want %q", got, "[::1]:443")
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port < 1 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}
