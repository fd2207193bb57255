package wire

import (
	"encoding/xml"
)

// Init holds the attributes of the engine's initial handshake message that
// matter for routing and diagnostics. The raw frame is always forwarded
// verbatim; this parse never feeds back into the relayed bytes.
type Init struct {
	XMLName         xml.Name `xml:"init"`
	IDEKey          string   `xml:"idekey,attr"`
	AppID           string   `xml:"appid,attr"`
	Session         string   `xml:"session,attr"`
	Thread          string   `xml:"thread,attr"`
	Parent          string   `xml:"parent,attr"`
	Language        string   `xml:"language,attr"`
	ProtocolVersion string   `xml:"protocol_version,attr"`
	FileURI         string   `xml:"fileuri,attr"`
	Hostname        string   `xml:"hostname,attr"`
}

// ParseInit validates and extracts the handshake frame. A payload that is not
// an XML init element, or one without an idekey attribute, is a fatal
// protocol violation (ErrInvalidHandshake) and no session may be created.
func ParseInit(payload []byte) (*Init, error) {
	var init Init
	if err := xml.Unmarshal(payload, &init); err != nil {
		return nil, ErrInvalidHandshake
	}
	if init.IDEKey == "" {
		return nil, ErrInvalidHandshake
	}
	return &init, nil
}
