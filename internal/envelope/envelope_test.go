package envelope

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/testserver"
)

func newClient(t *testing.T, srv *testserver.Server) *Client {
	t.Helper()
	session := testserver.Session(t, srv.NewProfile())
	return NewClient(session, srv.Client(), nil, logger.Logger{})
}

func fetchRequest() map[string]any {
	return map[string]any{"protection-keys": []string{"K0000001"}}
}

func TestNewCID_Format(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	cid, err := NewCID(primitives.New(), "D1234", now)
	if err != nil {
		t.Fatalf("Failed to build cid: %v", err)
	}

	parts := strings.Split(cid, "|")
	if len(parts) != 5 {
		t.Fatalf("Expected 5 parts, got: %d (%s)", len(parts), cid)
	}
	if parts[0] != "CID" || parts[1] != "D1234" || parts[2] != "1700000000123" || parts[4] != CIDVersion {
		t.Errorf("Unexpected cid: %s", cid)
	}
	if len(parts[3]) != 8 {
		t.Errorf("Expected base64 of 4 bytes, got: %q", parts[3])
	}
}

func TestSend_RoundTrip(t *testing.T) {
	srv := testserver.New(t)
	c := newClient(t, srv)

	resp, err := c.Send(context.Background(), srv.URL+"/v2.4/keys/fetch", fetchRequest(), Options{})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if !strings.HasPrefix(resp.RequestCID, "CID|") {
		t.Errorf("Expected request cid on response, got: %q", resp.RequestCID)
	}
	if len(resp.Data) == 0 {
		t.Errorf("Expected data in response")
	}
}

func TestSend_UsesCallerCID(t *testing.T) {
	srv := testserver.New(t)
	c := newClient(t, srv)

	cid, err := c.NewCID()
	if err != nil {
		t.Fatalf("Failed to build cid: %v", err)
	}
	resp, err := c.Send(context.Background(), srv.URL+"/v2.4/keys/fetch", fetchRequest(), Options{CID: cid})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if resp.RequestCID != cid {
		t.Errorf("Expected %s, got: %s", cid, resp.RequestCID)
	}
}

func TestSend_HfpSentOnce(t *testing.T) {
	srv := testserver.New(t)
	c := newClient(t, srv)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Send(ctx, srv.URL+"/v2.4/keys/fetch", fetchRequest(), Options{}); err != nil {
			t.Fatalf("Failed to send request %d: %v", i, err)
		}
	}

	metas := srv.Metas()
	if len(metas) != 2 {
		t.Fatalf("Expected 2 recorded requests, got: %d", len(metas))
	}
	if _, ok := metas[0]["hfp"]; !ok {
		t.Errorf("Expected hfp in first request meta")
	}
	if _, ok := metas[1]["hfp"]; ok {
		t.Errorf("Expected no hfp in second request meta")
	}
	for i, m := range metas {
		if _, ok := m["hfphash"]; !ok {
			t.Errorf("Expected hfphash in request %d", i)
		}
	}

	active, err := c.Profile()
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if !active.SentHfpOnce {
		t.Errorf("Expected sentHfpOnce to be recorded")
	}
}

func TestSend_MetadataPassedThrough(t *testing.T) {
	srv := testserver.New(t)
	c := newClient(t, srv)

	_, err := c.Send(context.Background(), srv.URL+"/v2.4/keys/fetch", fetchRequest(), Options{
		Metadata: map[string]any{"ionic-application-name": "keyward"},
	})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if got := srv.Metas()[0]["ionic-application-name"]; got != "keyward" {
		t.Errorf("Expected metadata to reach server, got: %v", got)
	}
}

func TestSend_CIDMismatch(t *testing.T) {
	srv := testserver.New(t)
	srv.ReplyCID = func(cid string) string { return cid + "x" }
	c := newClient(t, srv)

	_, err := c.Send(context.Background(), srv.URL+"/v2.4/keys/fetch", fetchRequest(), Options{})
	if !errors.Is(err, kerrors.ErrBadResponse) {
		t.Fatalf("Expected ErrBadResponse, got: %v", err)
	}
	if !strings.Contains(err.Error(), "cid mismatch") {
		t.Errorf("Expected cid mismatch message, got: %v", err)
	}
}

func TestSend_ServerErrorMapped(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{4020, kerrors.ErrKeyDenied},
		{4202, kerrors.ErrStaleKeyAttributes},
		{409, kerrors.ErrStaleKeyAttributes},
		{1234, kerrors.ErrBadResponse},
	}

	for _, tt := range tests {
		srv := testserver.New(t)
		srv.Error = &testserver.ServerError{Code: tt.code, Message: "nope"}
		c := newClient(t, srv)

		_, err := c.Send(context.Background(), srv.URL+"/v2.4/keys/fetch", fetchRequest(), Options{})
		if !errors.Is(err, tt.want) {
			t.Errorf("Code %d: expected %v, got: %v", tt.code, tt.want, err)
		}
	}
}

func TestSend_Unreachable(t *testing.T) {
	srv := testserver.New(t)
	c := newClient(t, srv)
	url := srv.URL
	srv.Close()

	_, err := c.Send(context.Background(), url+"/v2.4/keys/fetch", fetchRequest(), Options{})
	if !errors.Is(err, kerrors.ErrRequestFailed) {
		t.Errorf("Expected ErrRequestFailed, got: %v", err)
	}
}

func TestSend_RequiresData(t *testing.T) {
	srv := testserver.New(t)
	c := newClient(t, srv)

	if _, err := c.Send(context.Background(), srv.URL, nil, Options{}); !errors.Is(err, kerrors.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest, got: %v", err)
	}
}
