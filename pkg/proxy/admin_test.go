package proxy

import (
	"encoding/xml"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbgp-dev/dbgpd/pkg/config"
)

func TestParseAdminRequest(t *testing.T) {
	t.Parallel()

	req, err := parseAdminRequest("proxyinit -p 9000 -k abc -m 1")
	require.NoError(t, err)
	assert.Equal(t, "proxyinit", req.command)
	assert.Equal(t, "abc", req.ideKey)
	assert.Equal(t, 9000, req.port)
	assert.True(t, req.multi)

	req, err = parseAdminRequest("proxystop -k abc")
	require.NoError(t, err)
	assert.Equal(t, "proxystop", req.command)
	assert.Equal(t, "abc", req.ideKey)
}

func TestParseAdminRequestTrailingGarbage(t *testing.T) {
	t.Parallel()

	// Clients historically terminate the line with NUL or newline.
	req, err := parseAdminRequest("proxyinit -p 9000 -k abc -m 0\x00")
	require.NoError(t, err)
	assert.False(t, req.multi)
}

func TestParseAdminRequestRejects(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"bogus -k abc",
		"proxyinit -p 9000",             // missing key
		"proxyinit -k abc",              // missing port
		"proxyinit -p 99999 -k abc",     // port out of range
		"proxystop",                     // missing key
		"proxyinit -p nine -k abc",      // non-numeric port
		"proxyinit -x 1 -k abc -p 9000", // unknown flag
	}
	for _, line := range cases {
		_, err := parseAdminRequest(line)
		assert.ErrorIs(t, err, ErrInvalidArguments, "line %q", line)
	}
}

func adminProxy(t *testing.T, allowReplace bool) *Proxy {
	t.Helper()
	cfg := config.Default()
	cfg.Proxy.AllowReplace = allowReplace
	return New(cfg)
}

func fakeRemote(t *testing.T) net.Addr {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", "10.1.2.3:51234")
	require.NoError(t, err)
	return addr
}

func decodeResponse(t *testing.T, resp *adminResponse) (string, *adminResponse) {
	t.Helper()
	raw := resp.encode()

	var decoded adminResponse
	require.NoError(t, xml.Unmarshal(raw, &decoded))
	return decoded.XMLName.Local, &decoded
}

func TestServeProxyInit(t *testing.T) {
	t.Parallel()

	p := adminProxy(t, true)
	resp := p.serveAdminRequest("proxyinit -p 9000 -k abc -m 1", fakeRemote(t))

	element, decoded := decodeResponse(t, resp)
	assert.Equal(t, "proxyinit", element)
	assert.Equal(t, 1, decoded.Success)
	assert.Equal(t, "abc", decoded.IDEKey)
	assert.Equal(t, "10.1.2.3", decoded.Address)
	assert.Equal(t, 9000, decoded.Port)

	// The registration is reachable for pairing at the caller's host.
	b, err := p.registry.Pair("abc")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3:9000", b.Address)
	assert.True(t, b.Multi)
}

func TestServeProxyInitDuplicate(t *testing.T) {
	t.Parallel()

	p := adminProxy(t, false)
	_ = p.serveAdminRequest("proxyinit -p 9000 -k abc -m 1", fakeRemote(t))

	other, err := net.ResolveTCPAddr("tcp", "10.9.9.9:40000")
	require.NoError(t, err)
	resp := p.serveAdminRequest("proxyinit -p 9001 -k abc -m 1", other)

	_, decoded := decodeResponse(t, resp)
	assert.Equal(t, 0, decoded.Success)
	require.NotNil(t, decoded.Error)
	assert.Contains(t, decoded.Error.Message, "AlreadyRegistered")
}

func TestServeProxyInitReplace(t *testing.T) {
	t.Parallel()

	p := adminProxy(t, true)
	_ = p.serveAdminRequest("proxyinit -p 9000 -k abc -m 1", fakeRemote(t))

	other, err := net.ResolveTCPAddr("tcp", "10.9.9.9:40000")
	require.NoError(t, err)
	resp := p.serveAdminRequest("proxyinit -p 9001 -k abc -m 1", other)

	_, decoded := decodeResponse(t, resp)
	assert.Equal(t, 1, decoded.Success)

	b, ok := p.registry.Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, "10.9.9.9:9001", b.Address)
}

func TestServeProxyStop(t *testing.T) {
	t.Parallel()

	p := adminProxy(t, true)
	_ = p.serveAdminRequest("proxyinit -p 9000 -k abc -m 1", fakeRemote(t))

	resp := p.serveAdminRequest("proxystop -k abc", fakeRemote(t))
	element, decoded := decodeResponse(t, resp)
	assert.Equal(t, "proxystop", element)
	assert.Equal(t, 1, decoded.Success)
	assert.Zero(t, p.registry.Len())
}

func TestServeProxyStopUnknownKey(t *testing.T) {
	t.Parallel()

	p := adminProxy(t, true)
	resp := p.serveAdminRequest("proxystop -k nope", fakeRemote(t))

	_, decoded := decodeResponse(t, resp)
	assert.Equal(t, 0, decoded.Success)
	require.NotNil(t, decoded.Error)
	assert.Contains(t, decoded.Error.Message, "NoSuchKey")
	assert.Equal(t, errIDCommandUnavailable, decoded.Error.ID)
}

func TestServeInvalidRequest(t *testing.T) {
	t.Parallel()

	p := adminProxy(t, true)
	resp := p.serveAdminRequest("definitely not a command", fakeRemote(t))

	element, decoded := decodeResponse(t, resp)
	assert.Equal(t, "proxyerror", element)
	assert.Equal(t, 0, decoded.Success)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, errIDInvalidArgs, decoded.Error.ID)
}
