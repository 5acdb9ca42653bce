package server

import (
	"bytes"
	"strings"
)

// Request holds the request line tokens of a connection. Headers and bodies are never parsed.
type Request struct {
	PeerIP  string
	Method  string
	Target  string
	Version string
}

// parseRequestLine splits the first line of b on whitespace.
// Missing tokens are left empty, extra tokens are ignored.
func parseRequestLine(b []byte) (method, target, version string) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	fields := strings.Fields(string(b))
	tokens := make([]string, 3)
	copy(tokens, fields)
	return tokens[0], tokens[1], tokens[2]
}

// responseHeader is written for OPTIONS and GET requests. For GET it is followed by the command output.
// See https://developer.chrome.com/blog/private-network-access-preflight/ for the private network header.
const responseHeader = "HTTP/1.1 200 OK\r\n" +
	"Server: webserver-c\r\n" +
	"Cross-Origin-Opener-Policy: unsafe-none\r\n" +
	"Cross-Origin-Embedder-Policy: unsafe-none\r\n" +
	"Access-Control-Allow-Headers: cache-control\r\n" +
	"Access-Control-Allow-Methods: OPTIONS,GET\r\n" +
	"Cache-Control: no-store\r\n" +
	"Access-Control-Allow-Origin: *\r\n" +
	"Content-type: application/octet-stream\r\n" +
	"Access-Control-Allow-Private-Network: true\r\n\r\n"
