package proxy

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/dbgp-dev/dbgpd/pkg/logger"
	"github.com/dbgp-dev/dbgpd/pkg/networking"
	"github.com/dbgp-dev/dbgpd/pkg/registry"
)

// ErrInvalidArguments is returned for administrative requests that cannot be
// parsed or are missing required arguments.
var ErrInvalidArguments = errors.New("invalid administrative arguments")

// Administrative reason codes reported to the IDE. The numeric ids follow
// the DBGP command error table where a sensible mapping exists.
const (
	reasonInvalidArguments  = "InvalidArguments"
	reasonNoSuchKey         = "NoSuchKey"
	reasonAlreadyRegistered = "AlreadyRegistered"

	errIDDuplicateArgs      = 2
	errIDInvalidArgs        = 3
	errIDCommandUnavailable = 5
)

// maxAdminRequest bounds an administrative command line. Real requests are a
// few dozen bytes.
const maxAdminRequest = 2048

// adminRequest is one parsed administrative command.
type adminRequest struct {
	command string // "proxyinit" or "proxystop"
	ideKey  string
	port    int
	multi   bool
}

// parseAdminRequest parses the raw, unframed command line an IDE sends on
// the administrative channel: `proxyinit -p <port> -k <idekey> -m <0|1>` or
// `proxystop -k <idekey>`.
func parseAdminRequest(line string) (*adminRequest, error) {
	fields := strings.Fields(strings.TrimRight(line, "\x00\r\n"))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidArguments)
	}

	req := &adminRequest{command: strings.ToLower(fields[0])}
	switch req.command {
	case "proxyinit", "proxystop":
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidArguments, fields[0])
	}

	fs := pflag.NewFlagSet(req.command, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	key := fs.StringP("idekey", "k", "", "IDE key to register")
	port := fs.IntP("port", "p", 0, "IDE listen port")
	multi := fs.IntP("multi", "m", 0, "allow multiple engine sessions")
	if err := fs.Parse(fields[1:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	req.ideKey = *key
	req.port = *port
	req.multi = *multi != 0

	if req.ideKey == "" {
		return nil, fmt.Errorf("%w: missing -k idekey", ErrInvalidArguments)
	}
	if req.command == "proxyinit" && (req.port <= 0 || req.port > 65535) {
		return nil, fmt.Errorf("%w: missing or invalid -p port", ErrInvalidArguments)
	}
	return req, nil
}

// adminError is the structured failure element inside a response.
type adminError struct {
	ID      int    `xml:"id,attr"`
	Message string `xml:"message"`
}

// adminResponse is the single XML element answering an administrative
// request. The original IDE reads the success attribute and, for proxyinit,
// the address/port it was registered under.
type adminResponse struct {
	XMLName xml.Name
	Success int         `xml:"success,attr"`
	IDEKey  string      `xml:"idekey,attr,omitempty"`
	Address string      `xml:"address,attr,omitempty"`
	Port    int         `xml:"port,attr,omitempty"`
	Error   *adminError `xml:"error,omitempty"`
}

func (r *adminResponse) encode() []byte {
	body, err := xml.Marshal(r)
	if err != nil {
		// A static struct cannot fail to marshal; keep the channel alive anyway.
		return []byte(`<proxyerror success="0"/>`)
	}
	return append([]byte(xml.Header), body...)
}

func successResponse(command string, key, address string, port int) *adminResponse {
	return &adminResponse{
		XMLName: xml.Name{Local: command},
		Success: 1,
		IDEKey:  key,
		Address: address,
		Port:    port,
	}
}

func failureResponse(command string, reason string, detail error) *adminResponse {
	id := errIDInvalidArgs
	switch reason {
	case reasonNoSuchKey:
		id = errIDCommandUnavailable
	case reasonAlreadyRegistered:
		id = errIDDuplicateArgs
	}
	element := command
	if element == "" {
		element = "proxyerror"
	}
	return &adminResponse{
		XMLName: xml.Name{Local: element},
		Success: 0,
		Error:   &adminError{ID: id, Message: fmt.Sprintf("%s: %v", reason, detail)},
	}
}

// handleAdmin serves one administrative connection: one request, one
// response, close. Failures are structured responses to the caller and never
// fatal to the proxy.
func (p *Proxy) handleAdmin(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(p.cfg.Timeouts.Handshake)); err != nil {
		logger.Debugw("setting admin deadline", "error", err)
		return
	}

	buf := make([]byte, maxAdminRequest)
	n, err := conn.Read(buf)
	if err != nil {
		logger.Debugw("reading admin request", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	resp := p.serveAdminRequest(string(buf[:n]), conn.RemoteAddr())
	if _, err := conn.Write(resp.encode()); err != nil {
		logger.Debugw("writing admin response", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// serveAdminRequest maps one request line onto the registry.
func (p *Proxy) serveAdminRequest(line string, remote net.Addr) *adminResponse {
	req, err := parseAdminRequest(line)
	if err != nil {
		logger.Warnw("rejecting admin request", "remote", remote.String(), "error", err)
		return failureResponse("", reasonInvalidArguments, err)
	}

	switch req.command {
	case "proxyinit":
		// The IDE listener lives on the host the registration came from.
		host, _, err := net.SplitHostPort(remote.String())
		if err != nil {
			return failureResponse(req.command, reasonInvalidArguments,
				fmt.Errorf("unusable remote address %q", remote.String()))
		}
		address := networking.JoinHostPort(host, req.port)
		if err := p.registry.Register(req.ideKey, address, req.multi); err != nil {
			if errors.Is(err, registry.ErrAlreadyRegistered) {
				logger.Infow("refusing duplicate registration", "idekey", req.ideKey, "remote", remote.String())
				return failureResponse(req.command, reasonAlreadyRegistered, err)
			}
			return failureResponse(req.command, reasonInvalidArguments, err)
		}
		logger.Infow("IDE registered", "idekey", req.ideKey, "address", address, "multi", req.multi)
		return successResponse(req.command, req.ideKey, host, req.port)

	case "proxystop":
		if err := p.registry.Unregister(req.ideKey); err != nil {
			if errors.Is(err, registry.ErrNoSuchKey) {
				// IDEs stop their proxy registration on shutdown even if it
				// never stuck; this is routine, not alarming.
				logger.Debugw("proxystop for unknown key", "idekey", req.ideKey)
				return failureResponse(req.command, reasonNoSuchKey, err)
			}
			return failureResponse(req.command, reasonInvalidArguments, err)
		}
		logger.Infow("IDE unregistered", "idekey", req.ideKey)
		return successResponse(req.command, req.ideKey, "", 0)
	}

	// parseAdminRequest only lets the two commands through.
	return failureResponse("", reasonInvalidArguments, ErrInvalidArguments)
}
