// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	t.Run("small body", func(t *testing.T) {
		data, err := ReadResponse(strings.NewReader(`{"total_count":1}`))
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		if string(data) != `{"total_count":1}` {
			t.Fatalf("got %q", data)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		if len(data) != 0 {
			t.Fatalf("got %d bytes, want 0", len(data))
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(&failingReader{}); err == nil {
			t.Fatal("expected the reader's error")
		}
	})

	t.Run("oversized body is truncated", func(t *testing.T) {
		// An endless reader must not hang or exhaust memory; the read
		// stops at the cap.
		endless := io.LimitReader(&zeroReader{}, MaxResponseSize+1024)
		data, err := ReadResponse(endless)
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		if int64(len(data)) != MaxResponseSize {
			t.Fatalf("read %d bytes, want the %d cap", len(data), MaxResponseSize)
		}
	})
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) {
	return 0, errors.New("simulated read failure")
}

type zeroReader struct{}

func (*zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
