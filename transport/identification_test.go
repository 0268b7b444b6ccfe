package transport

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestReceiveClientIdentificationSkipsPreBanner(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("hello world\r\nSSH-2.0-Foo_1.0\r\n"))
	id, err := ReceiveClientIdentification(r)
	if err != nil {
		t.Fatal(err)
	}
	if id != "SSH-2.0-Foo_1.0" {
		t.Fatalf("got %q", id)
	}
}

func TestReceiveServerIdentificationTakesFirstLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("SSH-2.0-Client_1.0\r\nextra\r\n"))
	id, err := ReceiveServerIdentification(r)
	if err != nil {
		t.Fatal(err)
	}
	if id != "SSH-2.0-Client_1.0" {
		t.Fatalf("got %q", id)
	}
}

func TestReceiveServerIdentificationRejectsNonSSHFirstLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("not an ssh banner\r\n"))
	if _, err := ReceiveServerIdentification(r); err == nil {
		t.Fatal("expected error for non-SSH first line on server side")
	}
}

func TestSendIdentificationFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := SendIdentification(&buf, "sshcore_1.0"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "SSH-2.0-sshcore_1.0\r\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestReceiveClientIdentificationRejectsBareLF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("SSH-2.0-Foo\n"))
	if _, err := ReceiveClientIdentification(r); err != ErrBareLF {
		t.Fatalf("expected ErrBareLF, got %v", err)
	}
}

func TestReceiveClientIdentificationEnforcesPreBannerLimit(t *testing.T) {
	var sb strings.Builder
	// Many short junk lines that together exceed the 16KiB pre-banner
	// scan limit before any SSH- line appears.
	for i := 0; i < 2000; i++ {
		sb.WriteString("junk line of filler text\r\n")
	}
	r := bufio.NewReader(strings.NewReader(sb.String()))
	if _, err := ReceiveClientIdentification(r); err != ErrIdentificationTooLong {
		t.Fatalf("expected ErrIdentificationTooLong, got %v", err)
	}
}
