package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"forkhost/internal/errors"
)

// loopbackPair returns both ends of an established TCP connection.
func loopbackPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- nil
			return
		}
		done <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server = <-done
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		s, err := Lookup(name, Options{})
		if err != nil {
			t.Fatalf("Lookup(%s): %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("Name() = %s, want %s", s.Name(), name)
		}
	}
	if _, err := Lookup("threaded", Options{}); !errors.Is(err, errors.ErrUnknownStrategy) {
		t.Errorf("err = %v, want ErrUnknownStrategy", err)
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.IOTimeout != DefaultIOTimeout || o.PollInterval != DefaultPollInterval || o.MaxRetries != DefaultMaxRetries {
		t.Errorf("defaults = %+v", o)
	}
	if o := (Options{MaxRetries: -1}).withDefaults(); o.MaxRetries != 0 {
		t.Errorf("negative retries = %d, want 0", o.MaxRetries)
	}
}

func TestStrategy_Shape(t *testing.T) {
	s, _ := Lookup("sync", Options{IOTimeout: time.Second})
	a, _ := Lookup("async", Options{PollInterval: 5 * time.Millisecond})

	if !s.Serial() || a.Serial() {
		t.Error("sync is serial, async is not")
	}
	if s.AcceptWait() != time.Second || a.AcceptWait() != 5*time.Millisecond {
		t.Errorf("accept waits = %v, %v", s.AcceptWait(), a.AcceptWait())
	}
}

type plainListener struct{ net.Listener }

func TestSetup_RequiresDeadlines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	for _, name := range Names() {
		s, _ := Lookup(name, Options{})
		if err := s.Setup(ln); err != nil {
			t.Errorf("%s: Setup(tcp) = %v", name, err)
		}
		if err := s.Setup(plainListener{ln}); err == nil {
			t.Errorf("%s: listener without deadlines should be rejected", name)
		}
		if err := s.Setup(nil); err == nil {
			t.Errorf("%s: nil listener should be rejected", name)
		}
	}
}

func TestSync_RoundTrip(t *testing.T) {
	server, client := loopbackPair(t)
	s, _ := Lookup("sync", Options{IOTimeout: 2 * time.Second})

	client.Write([]byte("ping\n")) //nolint:errcheck

	var in bytes.Buffer
	n, err := s.Recv(server, &in)
	if err != nil || n == 0 {
		t.Fatalf("Recv = %d, %v", n, err)
	}
	if in.String() != "ping\n" {
		t.Errorf("in = %q", in.String())
	}

	out := bytes.NewBufferString("pong\n")
	if _, err := s.Send(server, out); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("%d bytes left unsent", out.Len())
	}

	got := make([]byte, 5)
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "pong\n" {
		t.Errorf("client got %q", got)
	}
}

func TestSync_RecvEOF(t *testing.T) {
	server, client := loopbackPair(t)
	s, _ := Lookup("sync", Options{IOTimeout: 2 * time.Second})
	client.Close()

	var in bytes.Buffer
	_, err := s.Recv(server, &in)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want EOF", err)
	}
	if !errors.Is(err, errors.ErrTransport) {
		t.Error("recv failure should be a transport error")
	}
}

// eventually calls op until it stops reporting ErrWouldBlock.
func eventually(t *testing.T, op func() (int, error)) (int, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := op()
		if !errors.Is(err, errors.ErrWouldBlock) || time.Now().After(deadline) {
			return n, err
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAsync_RecvWouldBlock(t *testing.T) {
	server, _ := loopbackPair(t)
	a, _ := Lookup("async", Options{PollInterval: time.Second, MaxRetries: 5})

	var in bytes.Buffer
	start := time.Now()
	n, err := a.Recv(server, &in)
	if n != 0 || !errors.Is(err, errors.ErrWouldBlock) {
		t.Fatalf("Recv = %d, %v; want ErrWouldBlock", n, err)
	}
	// A quiet peer must not cost a poll interval.
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("would-block took %v", elapsed)
	}
}

func TestAsync_RecvData(t *testing.T) {
	server, client := loopbackPair(t)
	a, _ := Lookup("async", Options{MaxRetries: 20})

	client.Write([]byte("abc")) //nolint:errcheck
	var in bytes.Buffer
	n, err := eventually(t, func() (int, error) { return a.Recv(server, &in) })
	if err != nil || n != 3 || in.String() != "abc" {
		t.Fatalf("Recv = %d, %v, %q", n, err, in.String())
	}
}

func TestAsync_RecvEOF(t *testing.T) {
	server, client := loopbackPair(t)
	a, _ := Lookup("async", Options{})
	client.Close()

	var in bytes.Buffer
	_, err := eventually(t, func() (int, error) { return a.Recv(server, &in) })
	if !errors.Is(err, io.EOF) || !errors.Is(err, errors.ErrTransport) {
		t.Fatalf("err = %v, want transport EOF", err)
	}
}

// TestAsync_SendPartial checks that flushed bytes leave the buffer and
// the rest stays queued for the next call.
func TestAsync_SendPartial(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	got := make(chan string, 1)
	go func() {
		b := make([]byte, 4)
		n, _ := client.Read(b)
		got <- string(b[:n])
	}()

	a, _ := Lookup("async", Options{MaxRetries: -1})
	out := bytes.NewBufferString("hello world")
	n, err := eventually(t, func() (int, error) { return a.Send(server, out) })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 4 || out.String() != "o world" {
		t.Errorf("sent %d, remaining %q", n, out.String())
	}
	if s := <-got; s != "hell" {
		t.Errorf("peer read %q", s)
	}
}

func TestAsync_SendWouldBlock(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	a, _ := Lookup("async", Options{PollInterval: time.Second})
	out := bytes.NewBufferString("nobody reads this")
	start := time.Now()
	if n, err := a.Send(server, out); n != 0 || !errors.Is(err, errors.ErrWouldBlock) {
		t.Fatalf("Send = %d, %v; want ErrWouldBlock", n, err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("would-block took %v", elapsed)
	}
	if out.Len() != len("nobody reads this") {
		t.Errorf("unsent bytes were consumed: %q", out.String())
	}
}

func TestAsync_SendEmpty(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	a, _ := Lookup("async", Options{})
	if n, err := a.Send(server, &bytes.Buffer{}); n != 0 || err != nil {
		t.Errorf("Send(empty) = %d, %v", n, err)
	}
}

func TestTCPDialer_ReachesLocalService(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second, KeepAlive: -1}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("forwarded\n")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len("forwarded\n"))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "forwarded\n" {
		t.Errorf("echoed %q", got)
	}
	if err := d.Close(); err != nil {
		t.Error(err)
	}
}

func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	var ne *errors.NetworkError
	if !errors.As(err, &ne) || ne.Op != "dial" {
		t.Errorf("err = %v, want dial NetworkError", err)
	}
}

func TestListen(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", false)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if _, err := Listen(context.Background(), ln.Addr().String(), false); err == nil {
		t.Error("second bind without SO_REUSEPORT should fail")
	}
}

func TestFile_RejectsNonTCP(t *testing.T) {
	if _, err := File(plainListener{}); err == nil {
		t.Error("expected error for a non-TCP listener")
	}
}
