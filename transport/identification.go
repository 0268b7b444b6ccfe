package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultIDPrefix is the SSH protocol-version prefix (RFC 4253 §4.2).
const DefaultIDPrefix = "SSH-2.0-"

const (
	maxLineLength    = 255
	maxPreBannerScan = 16 * 1024
)

// ErrIdentificationTooLong is returned when a single identification-scan
// line, or the total pre-banner scan, exceeds its limit (distilled spec
// §4.3 Limits).
var ErrIdentificationTooLong = errors.New("transport: identification line or pre-banner scan exceeded limit")

// ErrBareLF is returned on a lone line feed not preceded by CR, which
// RFC 4253 §4.2 treats as an invalid line terminator.
var ErrBareLF = errors.New("transport: bare LF in identification line")

// SendIdentification writes the local "SSH-2.0-<softwareversion>\r\n"
// banner (distilled spec §4.3), grounded on the teacher's raw
// fmt.Fprintf pre-framing exchanges in HKExDialSetup et al.
func SendIdentification(w io.Writer, softwareVersion string) error {
	_, err := fmt.Fprintf(w, "%s%s\r\n", DefaultIDPrefix, softwareVersion)
	return err
}

// readLine reads one CRLF-terminated line (without the terminator),
// enforcing maxLineLength and rejecting a bare LF not preceded by CR.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxLineLength+2 {
		return "", ErrIdentificationTooLong
	}
	if !strings.HasSuffix(line, "\r\n") {
		return "", ErrBareLF
	}
	return strings.TrimSuffix(line, "\r\n"), nil
}

// ReceiveServerIdentification reads the client's banner: the server
// accepts the very first line as the client identification string
// (distilled spec §4.3: "the server side accepts the first line as the
// client banner").
func ReceiveServerIdentification(r *bufio.Reader) (string, error) {
	line, err := readLine(r)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, "SSH-") {
		return "", errors.New("transport: client identification does not start with SSH-")
	}
	return line, nil
}

// ReceiveClientIdentification reads the server's banner, skipping any
// pre-banner lines that do not start with "SSH-" (distilled spec §4.3:
// "pre-banner text is allowed from the server"), bounded by
// maxPreBannerScan total bytes scanned.
func ReceiveClientIdentification(r *bufio.Reader) (string, error) {
	scanned := 0
	for {
		line, err := readLine(r)
		if err != nil {
			return "", err
		}
		scanned += len(line) + 2
		if scanned > maxPreBannerScan {
			return "", ErrIdentificationTooLong
		}
		if strings.HasPrefix(line, "SSH-") {
			return line, nil
		}
	}
}
