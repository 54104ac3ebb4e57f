package addr

import "testing"

func TestParseFormatIPv4RoundTrip(t *testing.T) {
	cases := []string{"0.0.0.0", "127.0.0.1", "255.255.255.255", "192.168.1.100"}
	for _, s := range cases {
		var ip [16]byte
		octets, err := ParseIPv4(s)
		if err != nil {
			t.Fatalf("ParseIPv4(%q): %v", s, err)
		}
		copy(ip[:4], octets[:])
		if got := FormatIPv4(ip); got != s {
			t.Errorf("FormatIPv4(ParseIPv4(%q)) = %q, want %q", s, got, s)
		}
	}
}

func TestParseIPv4RejectsLegacyForms(t *testing.T) {
	bad := []string{"0x7f.0.0.1", "010.0.0.1", "1.2.3", "1.2.3.4.5", "1.2.3.256", ""}
	for _, s := range bad {
		if _, err := ParseIPv4(s); err == nil {
			t.Errorf("ParseIPv4(%q) should have failed", s)
		}
	}
}

func TestParseIPv6Basic(t *testing.T) {
	octets, err := ParseIPv6("::1")
	if err != nil {
		t.Fatalf("ParseIPv6(::1): %v", err)
	}
	want := [16]byte{}
	want[15] = 1
	if octets != want {
		t.Errorf("ParseIPv6(::1) = %v, want %v", octets, want)
	}
}

func TestParseIPv6RejectsMultipleCompression(t *testing.T) {
	if _, err := ParseIPv6("1::2::3"); err == nil {
		t.Error("expected error for double '::' compression")
	}
}

func TestParseIPv6RejectsWhitespace(t *testing.T) {
	if _, err := ParseIPv6("fe80: :1"); err == nil {
		t.Error("expected error for embedded whitespace")
	}
}

func TestParseIPv6MappedIPv4(t *testing.T) {
	octets, err := ParseIPv6("::ffff:192.0.2.1")
	if err != nil {
		t.Fatalf("ParseIPv6: %v", err)
	}
	if octets[10] != 0xff || octets[11] != 0xff {
		t.Fatalf("expected ffff marker, got % x", octets[10:12])
	}
	if octets[12] != 192 || octets[13] != 0 || octets[14] != 2 || octets[15] != 1 {
		t.Fatalf("expected mapped IPv4 tail, got % x", octets[12:16])
	}
}

func TestFormatIPv6Compression(t *testing.T) {
	var ip [16]byte
	ip[15] = 1
	if got, want := FormatIPv6(ip), "::1"; got != want {
		t.Errorf("FormatIPv6 = %q, want %q", got, want)
	}
}

func TestHTONSIdentityRoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x1234, 0xffff} {
		if got := NTOHS(HTONS(v)); got != v {
			t.Errorf("NTOHS(HTONS(%d)) = %d", v, got)
		}
	}
}

func TestHTONLIdentityRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x12345678, 0xffffffff} {
		if got := NTOHL(HTONL(v)); got != v {
			t.Errorf("NTOHL(HTONL(%d)) = %d", v, got)
		}
	}
}

func TestEndpointEqual(t *testing.T) {
	a := NewIPv4(127, 0, 0, 1, 80)
	b := NewIPv4(127, 0, 0, 1, 80)
	c := NewIPv4(127, 0, 0, 1, 81)
	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}

func TestEndpointWildcardAndAny(t *testing.T) {
	e := NewIPv4(0, 0, 0, 0, 0)
	if !e.IsWildcardPort() || !e.IsAnyAddress() {
		t.Error("expected wildcard port and any address")
	}
}
