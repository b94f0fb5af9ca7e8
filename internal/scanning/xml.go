package scanning

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/portscan/internal/errors"
)

const (
	nmapRootElement = "nmaprun"
	bannerScriptID  = "banner"
)

// ParseFile reads an nmap XML capture file.
func ParseFile(path string) (*RawScanResult, error) {
	if err := validateFilePath(path); err != nil {
		return nil, errors.WrapParseError("invalid scan result path", path, err)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.WrapParseError("failed to read scan result", path, err)
	}
	return parse(bytes.NewReader(data), path)
}

// Parse decodes an nmap XML document. The root element must be <nmaprun>;
// empty, truncated or foreign documents fail with a parse error.
func Parse(r io.Reader) (*RawScanResult, error) {
	return parse(r, "")
}

func parse(r io.Reader, source string) (*RawScanResult, error) {
	decoder := xml.NewDecoder(r)

	start, err := rootElement(decoder)
	if err != nil {
		return nil, errors.WrapParseError("malformed scan result", source, err)
	}
	if start.Name.Local != nmapRootElement {
		return nil, errors.NewParseError(
			fmt.Sprintf("unexpected root element <%s>, want <%s>", start.Name.Local, nmapRootElement), source)
	}

	var run nmap.Run
	if err := decoder.DecodeElement(&run, &start); err != nil {
		return nil, errors.WrapParseError("malformed scan result", source, err)
	}
	return convertRun(&run), nil
}

// rootElement skips the prolog (declaration, doctype, stylesheet, comments)
// and returns the first start element.
func rootElement(decoder *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return xml.StartElement{}, fmt.Errorf("document has no root element")
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return xml.StartElement{}, fmt.Errorf("unexpected character data before root element")
			}
		}
	}
}

// convertRun converts nmap results to our internal format.
func convertRun(run *nmap.Run) *RawScanResult {
	result := &RawScanResult{Hosts: make([]RawHost, 0, len(run.Hosts))}
	for i := range run.Hosts {
		result.Hosts = append(result.Hosts, convertHost(&run.Hosts[i]))
	}
	return result
}

// convertHost converts a single nmap host; every port is kept regardless of state.
func convertHost(h *nmap.Host) RawHost {
	host := RawHost{
		Status: h.Status.State,
		Ports:  make([]RawPort, 0, len(h.Ports)),
	}
	for _, a := range h.Addresses {
		host.Addresses = append(host.Addresses, HostAddress{Addr: a.Addr, Type: a.AddrType})
	}
	for _, hn := range h.Hostnames {
		if hn.Name != "" {
			host.Hostnames = append(host.Hostnames, hn.Name)
		}
	}

	for j := range h.Ports {
		p := &h.Ports[j]
		port := RawPort{
			Number:      p.ID,
			Protocol:    p.Protocol,
			State:       p.State.State,
			ServiceName: p.Service.Name,
			Product:     p.Service.Product,
			Version:     p.Service.Version,
			ExtraInfo:   p.Service.ExtraInfo,
		}
		for _, script := range p.Scripts {
			if script.ID == bannerScriptID {
				port.Banner = strings.TrimSpace(script.Output)
				break
			}
		}
		host.Ports = append(host.Ports, port)
	}
	return host
}

// validateFilePath validates that the file path is safe to use.
func validateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path")
	}
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return fmt.Errorf("path contains directory traversal")
		}
	}
	return nil
}
