package main

import (
	"context"
	"net"
	"testing"
)

func TestDirectActor(t *testing.T) {
	a := newDirectActor("primary")
	if a.Tag() != "primary" {
		t.Error("Tag mismatch, got", a.Tag())
	}

	h, err := a.Stream()
	if err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer server.Close()

	out, err := h.Handle(context.Background(), nil, client)
	if err != nil {
		t.Fatal(err)
	}
	if out != client {
		t.Error("Handle should pass the connection through unchanged")
	}
}
