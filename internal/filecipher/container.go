package filecipher

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/primitives"
)

const (
	// Version is the only container version this package reads or writes.
	Version = "1.2"

	// FamilyGeneric is the container family for arbitrary files.
	FamilyGeneric = "generic"

	// SegmentSize is the maximum plaintext length of one segment.
	SegmentSize = 10_000_000

	// DigestSize is the length of the encrypted digest.
	DigestSize = 32

	headerDelimiter = "\r\n\r\n"
	embedName       = "ionic/embed.ion"
	csvMarker       = "[IONIC-FILE-CSV-1.0]"
	csvBegin        = "[IONIC-DATA-BEGIN]"
	csvEnd          = "[IONIC-DATA-END]"
	pdfStream       = "stream"
	pdfEndStream    = "endstream"
)

// Header is the JSON header at the start of a container.
type Header struct {
	Family  string `json:"family"`
	Version string `json:"version"`
	Tag     string `json:"tag"`
	Server  string `json:"server"`
}

// Container is a parsed container with its payload still encrypted.
type Container struct {
	Header       Header
	DigestIV     []byte
	Digest       []byte
	SegmentBytes []byte
}

// SegmentCount returns how many segments a plaintext of n bytes splits into.
func SegmentCount(n, segmentSize int) int {
	if n <= 0 {
		return 0
	}
	return (n + segmentSize - 1) / segmentSize
}

func (h Header) marshal() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append(b, headerDelimiter...), nil
}

// Parse unwraps data from any supported carrier and splits the container
// into its parts.
//
// Returns ErrParseFailed if no header can be found or the header is not JSON.
// Returns ErrInvalidValue if the container version is not 1.2.
func Parse(data []byte) (*Container, error) {
	data = unwrapZip(data)

	data, err := unwrapCSV(data)
	if err != nil {
		return nil, err
	}

	idx := bytes.Index(data, []byte(headerDelimiter))
	if idx < 0 {
		return nil, kerrors.New(kerrors.CodeParseFailed, "unable to find the header in the file")
	}
	rawHeader := data[:idx]
	body := data[idx+len(headerDelimiter):]

	// PDF carriers prepend document data to the header and append the
	// trailer after the payload.
	if !bytes.HasPrefix(bytes.TrimSpace(rawHeader), []byte("{")) {
		if i := bytes.LastIndex(rawHeader, []byte(pdfStream)); i >= 0 {
			rawHeader = rawHeader[i+len(pdfStream):]
			if end := bytes.Index(body, []byte(pdfEndStream)); end >= 0 {
				body = body[:end]
			}
		}
	}

	var header Header
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "parsing file header", err)
	}
	if header.Version != Version {
		return nil, kerrors.New(kerrors.CodeInvalidValue,
			"unsupported file version %q, only %s can be decrypted", header.Version, Version)
	}
	if header.Tag == "" {
		return nil, kerrors.New(kerrors.CodeMissingValue, "file header has no key tag")
	}

	if len(body) < primitives.IVSize+DigestSize {
		return nil, kerrors.New(kerrors.CodeParseFailed, "file is truncated after the header")
	}
	return &Container{
		Header:       header,
		DigestIV:     body[:primitives.IVSize],
		Digest:       body[primitives.IVSize : primitives.IVSize+DigestSize],
		SegmentBytes: body[primitives.IVSize+DigestSize:],
	}, nil
}

// unwrapZip returns the embedded container of an OOXML-style archive, or
// data unchanged when it is not such an archive.
func unwrapZip(data []byte) []byte {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return data
	}
	for _, f := range zr.File {
		if f.Name != embedName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return data
		}
		embedded, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return data
		}
		return embedded
	}
	return data
}

func unwrapCSV(data []byte) ([]byte, error) {
	if !bytes.Contains(data, []byte(csvMarker)) {
		return data, nil
	}
	_, rest, found := bytes.Cut(data, []byte(csvBegin))
	if !found {
		return nil, kerrors.New(kerrors.CodeParseFailed, "csv file has no %s marker", csvBegin)
	}
	encoded, _, _ := bytes.Cut(rest, []byte(csvEnd))
	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(encoded)))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "decoding csv payload", err)
	}
	return decoded, nil
}
