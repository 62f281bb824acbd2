package filecipher

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/PolarWolf314/keyward/internal/envelope"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/keys"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/testserver"
)

type staticKeys struct {
	material *keys.Material
	err      error
}

func (s *staticKeys) Key(_ context.Context, req keys.KeyRequest) (*keys.Material, error) {
	if s.err != nil {
		return nil, s.err
	}
	if req.Tag != "" && req.Tag != s.material.Tag {
		return nil, kerrors.New(kerrors.CodeKeyDenied, "unknown key %s", req.Tag)
	}
	return s.material, nil
}

func newStaticCipher(segmentSize int) *Cipher {
	src := &staticKeys{material: &keys.Material{
		Tag:    "FILEKEY",
		Key:    bytes.Repeat([]byte{0x42}, primitives.KeySize),
		Server: "https://api.test",
	}}
	c := NewCipher(src, nil, logger.Logger{})
	c.segmentSize = segmentSize
	return c
}

func splitHeader(t *testing.T, data []byte) (Header, []byte) {
	t.Helper()
	idx := bytes.Index(data, []byte(headerDelimiter))
	if idx < 0 {
		t.Fatalf("Expected header delimiter in output")
	}
	var h Header
	if err := json.Unmarshal(data[:idx], &h); err != nil {
		t.Fatalf("Failed to parse header: %v", err)
	}
	return h, data[idx+len(headerDelimiter):]
}

func TestEncrypt_Layout(t *testing.T) {
	c := newStaticCipher(SegmentSize)
	out, err := c.Encrypt(context.Background(), []byte("hello file"), EncryptOptions{})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	idx := bytes.Index(out, []byte(headerDelimiter))
	want := `{"family":"generic","version":"1.2","tag":"FILEKEY","server":"https://api.test"}`
	if string(out[:idx]) != want {
		t.Errorf("Expected header %s, got: %s", want, out[:idx])
	}

	_, body := splitHeader(t, out)
	if len(body) != primitives.IVSize+DigestSize+primitives.IVSize+len("hello file") {
		t.Errorf("Unexpected body length: %d", len(body))
	}
}

func TestRoundTrip_MultipleSegments(t *testing.T) {
	c := newStaticCipher(7)
	ctx := context.Background()
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	out, err := c.Encrypt(ctx, plaintext, EncryptOptions{})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	_, body := splitHeader(t, out)
	segments := SegmentCount(len(plaintext), 7)
	if len(body) != primitives.IVSize+DigestSize+len(plaintext)+segments*primitives.IVSize {
		t.Errorf("Expected %d segments worth of IVs, body length: %d", segments, len(body))
	}

	got, err := c.Decrypt(ctx, out, nil)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Expected %q, got: %q", plaintext, got)
	}
}

func TestRoundTrip_LargeFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large file round trip in short mode")
	}
	c := newStaticCipher(SegmentSize)
	ctx := context.Background()

	plaintext := make([]byte, 25_000_010)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}
	if n := SegmentCount(len(plaintext), SegmentSize); n != 3 {
		t.Fatalf("Expected 3 segments, got: %d", n)
	}

	out, err := c.Encrypt(ctx, plaintext, EncryptOptions{})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	_, body := splitHeader(t, out)
	if len(body) != primitives.IVSize+DigestSize+len(plaintext)+3*primitives.IVSize {
		t.Errorf("Unexpected body length: %d", len(body))
	}

	got, err := c.Decrypt(ctx, out, nil)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Expected large file to round trip exactly")
	}
}

func TestRoundTrip_Empty(t *testing.T) {
	c := newStaticCipher(SegmentSize)
	ctx := context.Background()

	out, err := c.Encrypt(ctx, nil, EncryptOptions{})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	got, err := c.Decrypt(ctx, out, nil)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty plaintext, got: %d bytes", len(got))
	}
}

func TestDecrypt_DigestMismatch(t *testing.T) {
	c := newStaticCipher(5)
	ctx := context.Background()

	out, err := c.Encrypt(ctx, []byte("integrity matters"), EncryptOptions{})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	out[len(out)-1] ^= 0x01

	_, err = c.Decrypt(ctx, out, nil)
	if !errors.Is(err, kerrors.ErrCryptoError) {
		t.Errorf("Expected ErrCryptoError, got: %v", err)
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	c := newStaticCipher(SegmentSize)
	ctx := context.Background()

	tests := []struct {
		name  string
		input []byte
		code  kerrors.Code
	}{
		{"no header", []byte("just some bytes"), kerrors.CodeParseFailed},
		{"bad json", []byte("{not json\r\n\r\n"), kerrors.CodeParseFailed},
		{"wrong version", []byte(`{"family":"generic","version":"1.1","tag":"FILEKEY"}` + "\r\n\r\n"), kerrors.CodeInvalidValue},
		{"missing tag", []byte(`{"family":"generic","version":"1.2"}` + "\r\n\r\n"), kerrors.CodeMissingValue},
		{"truncated", []byte(`{"family":"generic","version":"1.2","tag":"FILEKEY"}` + "\r\n\r\nshort"), kerrors.CodeParseFailed},
		{"csv without data", []byte("[IONIC-FILE-CSV-1.0]\nnothing"), kerrors.CodeParseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(ctx, tt.input, nil)
			if kerrors.CodeOf(err) != tt.code {
				t.Errorf("Expected %s, got: %v", tt.code, err)
			}
		})
	}
}

func TestDecrypt_UnknownKey(t *testing.T) {
	c := newStaticCipher(SegmentSize)
	input := []byte(`{"family":"generic","version":"1.2","tag":"OTHER"}` + "\r\n\r\n")
	input = append(input, make([]byte, primitives.IVSize+DigestSize)...)

	_, err := c.Decrypt(context.Background(), input, nil)
	if !errors.Is(err, kerrors.ErrKeyDenied) {
		t.Errorf("Expected the key source error to be preserved, got: %v", err)
	}
}

func TestDecrypt_Carriers(t *testing.T) {
	c := newStaticCipher(SegmentSize)
	ctx := context.Background()
	plaintext := []byte("carried payload")

	container, err := c.Encrypt(ctx, plaintext, EncryptOptions{})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	var zipped bytes.Buffer
	zw := zip.NewWriter(&zipped)
	if w, err := zw.Create("[Content_Types].xml"); err == nil {
		w.Write([]byte("<Types/>"))
	}
	w, err := zw.Create(embedName)
	if err != nil {
		t.Fatalf("Failed to create zip entry: %v", err)
	}
	w.Write(container)
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}

	csv := []byte(csvMarker + "\n" + csvBegin + "\n" +
		base64.StdEncoding.EncodeToString(container) + "\n" + csvEnd + "\n")

	pdf := append([]byte("%PDF-1.7\n4 0 obj\n<< /Length 0 >>\nstream\n"), container...)
	pdf = append(pdf, []byte("endstream\nendobj\n%%EOF")...)

	tests := map[string][]byte{
		"plain": container,
		"zip":   zipped.Bytes(),
		"csv":   csv,
		"pdf":   pdf,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := c.Decrypt(ctx, input, nil)
			if err != nil {
				t.Fatalf("Failed to decrypt %s carrier: %v", name, err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("Expected %q, got: %q", plaintext, got)
			}
		})
	}
}

func TestRoundTrip_KeyService(t *testing.T) {
	srv := testserver.New(t)
	profile := srv.NewProfile()
	session := testserver.Session(t, profile)
	client := envelope.NewClient(session, srv.Client(), nil, logger.Logger{})
	c := NewCipher(keys.NewService(client, logger.Logger{}), nil, logger.Logger{})
	ctx := context.Background()

	out, err := c.Encrypt(ctx, []byte("served"), EncryptOptions{
		Attributes: keys.Attributes{"classification": {"internal"}},
	})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	header, _ := splitHeader(t, out)
	if _, ok := srv.Key(header.Tag); !ok {
		t.Errorf("Expected header tag %s to name a server key", header.Tag)
	}
	if header.Server != profile.Server {
		t.Errorf("Expected server %s, got: %s", profile.Server, header.Server)
	}

	got, err := c.Decrypt(ctx, out, nil)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if string(got) != "served" {
		t.Errorf("Expected %q, got: %q", "served", got)
	}
}
