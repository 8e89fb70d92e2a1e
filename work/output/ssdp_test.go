package output

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksLikeMSearchMatchesPrefix(t *testing.T) {
	assert.True(t, looksLikeMSearch([]byte("M-SEARCH * HTTP/1.1\r\n")))
	assert.False(t, looksLikeMSearch([]byte("GET / HTTP/1.1\r\n")))
	assert.False(t, looksLikeMSearch([]byte("short")))
}

func TestSSDPResponderResponseContainsLocationAndUSN(t *testing.T) {
	r := NewSSDPResponder("10123456", "uuid:abc", "http://host:8080", nil)
	resp := r.response()
	assert.Contains(t, resp, "LOCATION: http://host:8080/device.xml")
	assert.Contains(t, resp, "USN: uuid:abc::urn:schemas-upnp-org:device:MediaServer:1")
	assert.Contains(t, resp, "HTTP/1.1 200 OK")
}

func TestSSDPResponderServeRepliesToMSearch(t *testing.T) {
	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	r := NewSSDPResponder("10123456", "uuid:abc", "http://host:8080", nil)
	go r.Serve(serverConn)

	client, err := net.DialUDP("udp4", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("M-SEARCH * HTTP/1.1\r\n"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "LOCATION: http://host:8080/device.xml")
}

func TestHDHRDiscoveryResponderEchoesDeviceID(t *testing.T) {
	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	r := NewHDHRDiscoveryResponder("10123456", nil)
	go r.Serve(serverConn)

	client, err := net.DialUDP("udp4", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("HDHR"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "HDHR10123456", string(buf[:n]))
}
