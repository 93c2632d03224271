package ros

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPrivateIP(t *testing.T) {
	cases := []struct {
		ip      string
		private bool
	}{
		{"192.168.1.5", true},
		{"10.0.0.1", true},
		{"169.254.1.1", true},
		{"8.8.8.8", false},
		{"172.16.0.1", false}, // spec defines private as only the three listed ranges
	}
	for _, c := range cases {
		require.Equalf(t, c.private, isPrivateIP(net.ParseIP(c.ip)), "ip=%s", c.ip)
	}
}

func TestBracketHost(t *testing.T) {
	require.Equal(t, "127.0.0.1", bracketHost("127.0.0.1"))
	require.Equal(t, "[::1]", bracketHost("::1"))
	require.Equal(t, "[::1]", bracketHost("[::1]"))
}
