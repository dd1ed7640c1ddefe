package server

import (
	"net"
	"net/http"
	"testing"
	"time"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestStartAndShutdown(t *testing.T) {
	addr := freeAddr(t)
	s := New(addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), time.Second)
	s.Start()

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status %d", resp.StatusCode)
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-s.Notify():
		if err != nil {
			t.Fatalf("notify: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after shutdown")
	}
}

func TestNotifyReportsListenError(t *testing.T) {
	s := New("256.0.0.1:bad", http.NotFoundHandler(), time.Second)
	s.Start()
	select {
	case err := <-s.Notify():
		if err == nil {
			t.Fatal("want listen error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}
