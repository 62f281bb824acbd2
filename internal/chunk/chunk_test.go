package chunk

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PolarWolf314/keyward/internal/envelope"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/keys"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/testserver"
)

func newCipher(t *testing.T) (*Cipher, *testserver.Server) {
	t.Helper()
	srv := testserver.New(t)
	session := testserver.Session(t, srv.NewProfile())
	client := envelope.NewClient(session, srv.Client(), nil, logger.Logger{})
	svc := keys.NewService(client, logger.Logger{})
	return NewCipher(svc, nil, logger.Logger{}), srv
}

type staticKeys struct {
	material *keys.Material
	err      error
	requests []keys.KeyRequest
}

func (s *staticKeys) Key(_ context.Context, req keys.KeyRequest) (*keys.Material, error) {
	s.requests = append(s.requests, req)
	return s.material, s.err
}

func TestEncodeDecode_V1(t *testing.T) {
	iv := bytes.Repeat([]byte{1}, 16)
	ct := []byte("ciphertext")

	encoded := EncodeV1("ABCDEFG", iv, ct)
	if !strings.HasPrefix(encoded, "~!ABCDEFG~fEc!") || !strings.HasSuffix(encoded, "!cEf") {
		t.Fatalf("Unexpected v1 layout: %s", encoded)
	}
	if !IsV1(encoded) {
		t.Errorf("Expected v1 detection for %s", encoded)
	}

	rec, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Failed to decode v1 chunk: %v", err)
	}
	if rec.Tag != "ABCDEFG" || !bytes.Equal(rec.IV, iv) || !bytes.Equal(rec.Ciphertext, ct) {
		t.Errorf("Unexpected record: %+v", rec)
	}

	truncated := strings.TrimSuffix(encoded, "cEf")
	if _, err := Decode(truncated); kerrors.CodeOf(err) != kerrors.CodeChunkError {
		t.Errorf("Expected CHUNK_ERROR without the cEf terminator, got: %v", err)
	}
}

func TestEncodeDecode_V2(t *testing.T) {
	iv := bytes.Repeat([]byte{2}, 16)
	ct := []byte("more ciphertext")

	encoded := EncodeV2("TAG", iv, ct)
	if !strings.HasPrefix(encoded, "~!2!TAG!") || !strings.HasSuffix(encoded, "!") {
		t.Fatalf("Unexpected v2 layout: %s", encoded)
	}
	if IsV1(encoded) {
		t.Errorf("Did not expect v1 detection for %s", encoded)
	}

	rec, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Failed to decode v2 chunk: %v", err)
	}
	if rec.Tag != "TAG" || !bytes.Equal(rec.IV, iv) || !bytes.Equal(rec.Ciphertext, ct) {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []string{
		"~!2!TAG!payload",
		"~!3!TAG!AAAA!",
		"plain text",
		"~!TAG~fEc!AAAA",
		"~!TAG~fEc!AAAAAAAAAAAAAAAAAAAAAA==!",
		"~!TAG~fEc!AAAAAAAAAAAAAAAAAAAAAA==!cEf!",
		"x!TAG~fEc!AAAA!cEf",
		"~!2!TAG!not base64!",
		"~!2!TAG!AAAA!",
	}
	for _, input := range tests {
		_, err := Decode(input)
		if err == nil {
			t.Errorf("Expected error decoding %q", input)
			continue
		}
		if kerrors.CodeOf(err) != kerrors.CodeChunkError {
			t.Errorf("Expected CHUNK_ERROR for %q, got: %v", input, err)
		}
		if !strings.Contains(err.Error(), input) {
			t.Errorf("Expected error to name the input %q, got: %v", input, err)
		}
	}
}

func TestParseVersion(t *testing.T) {
	for input, want := range map[string]Version{"": V2, "v2": V2, "V1": V1, "v1": V1} {
		got, err := ParseVersion(input)
		if err != nil {
			t.Fatalf("Failed to parse version %q: %v", input, err)
		}
		if got != want {
			t.Errorf("Expected %s for %q, got: %s", want, input, got)
		}
	}
	if _, err := ParseVersion("v3"); !errors.Is(err, kerrors.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for v3, got: %v", err)
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, srv := newCipher(t)
	ctx := context.Background()

	for _, version := range []string{"v1", "v2"} {
		chunk, err := c.EncryptString(ctx, "hello chunk", EncryptOptions{Version: version})
		if err != nil {
			t.Fatalf("Failed to encrypt %s chunk: %v", version, err)
		}
		rec, err := Decode(chunk)
		if err != nil {
			t.Fatalf("Failed to decode %s chunk: %v", version, err)
		}
		if _, ok := srv.Key(rec.Tag); !ok {
			t.Errorf("Expected tag %s to name a server key", rec.Tag)
		}

		plaintext, err := c.DecryptString(ctx, chunk, nil)
		if err != nil {
			t.Fatalf("Failed to decrypt %s chunk: %v", version, err)
		}
		if plaintext != "hello chunk" {
			t.Errorf("Expected plaintext %q, got: %q", "hello chunk", plaintext)
		}
	}
}

func TestCipher_EncryptWithExistingTag(t *testing.T) {
	c, _ := newCipher(t)
	ctx := context.Background()

	first, err := c.EncryptString(ctx, "one", EncryptOptions{})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	rec, _ := Decode(first)

	second, err := c.EncryptString(ctx, "two", EncryptOptions{Tag: rec.Tag})
	if err != nil {
		t.Fatalf("Failed to encrypt with tag: %v", err)
	}
	rec2, _ := Decode(second)
	if rec2.Tag != rec.Tag {
		t.Errorf("Expected tag %s to be reused, got: %s", rec.Tag, rec2.Tag)
	}
	if bytes.Equal(rec.IV, rec2.IV) {
		t.Errorf("Expected a fresh IV per chunk")
	}
}

func TestCipher_Errors(t *testing.T) {
	ctx := context.Background()

	src := &staticKeys{material: &keys.Material{Tag: "T", Key: bytes.Repeat([]byte{9}, 32)}}
	c := NewCipher(src, nil, logger.Logger{})
	if _, err := c.Encrypt(ctx, []byte("x"), EncryptOptions{Version: "v9"}); !errors.Is(err, kerrors.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for bad version, got: %v", err)
	}
	if len(src.requests) != 0 {
		t.Errorf("Expected no key request for an invalid version")
	}

	failing := NewCipher(&staticKeys{err: errors.New("offline")}, nil, logger.Logger{})
	_, err := failing.Encrypt(ctx, []byte("x"), EncryptOptions{})
	if kerrors.CodeOf(err) != kerrors.CodeChunkError {
		t.Errorf("Expected CHUNK_ERROR when key source fails, got: %v", err)
	}
	_, err = failing.Decrypt(ctx, EncodeV2("T", make([]byte, 16), []byte("ct")), nil)
	if kerrors.CodeOf(err) != kerrors.CodeChunkError {
		t.Errorf("Expected CHUNK_ERROR when key source fails, got: %v", err)
	}
}

func TestCipher_DecryptForwardsMetadata(t *testing.T) {
	src := &staticKeys{material: &keys.Material{Tag: "T", Key: bytes.Repeat([]byte{7}, 32)}}
	c := NewCipher(src, nil, logger.Logger{})
	ctx := context.Background()

	chunk, err := c.EncryptString(ctx, "payload", EncryptOptions{Tag: "T", Version: "v1"})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	meta := map[string]any{"ionic-application-name": "test"}
	got, err := c.DecryptString(ctx, chunk, meta)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if got != "payload" {
		t.Errorf("Expected %q, got: %q", "payload", got)
	}
	last := src.requests[len(src.requests)-1]
	if last.Tag != "T" || last.Metadata["ionic-application-name"] != "test" {
		t.Errorf("Unexpected key request: %+v", last)
	}
}
