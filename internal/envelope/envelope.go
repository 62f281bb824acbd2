// Package envelope wraps every key service call in an AES-256-GCM envelope
// bound to a conversation id.
package envelope

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/profiles"
	"github.com/hashicorp/go-cleanhttp"
)

// CIDVersion is the protocol version carried in every conversation id.
const CIDVersion = "2.4.0"

const maxResponseBytes = 64 << 20

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProfileSource supplies the active device profile and records fingerprint
// transmission. *profiles.Session satisfies it.
type ProfileSource interface {
	ActiveProfile() (*profiles.DeviceProfile, error)
	MarkHfpSent(ctx context.Context, deviceID string) error
}

// Client sends enveloped requests on behalf of the active profile.
type Client struct {
	source   ProfileSource
	http     Doer
	provider primitives.Provider
	log      logger.Logger
	now      func() time.Time
}

// NewClient returns a Client. A nil doer uses a pooled cleanhttp client and a
// nil provider uses primitives.New.
func NewClient(source ProfileSource, doer Doer, provider primitives.Provider, log logger.Logger) *Client {
	if doer == nil {
		doer = cleanhttp.DefaultPooledClient()
	}
	if provider == nil {
		provider = primitives.New()
	}
	return &Client{source: source, http: doer, provider: provider, log: log, now: time.Now}
}

// Provider returns the client's primitive provider.
func (c *Client) Provider() primitives.Provider { return c.provider }

// Profile returns the active profile of the client's source.
func (c *Client) Profile() (*profiles.DeviceProfile, error) {
	return c.source.ActiveProfile()
}

// NewCID builds "CID|<deviceId>|<epochMs>|<base64 4-byte nonce>|2.4.0".
func NewCID(p primitives.Provider, deviceID string, now time.Time) (string, error) {
	nonce, err := p.RandomBytes(4)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		"CID",
		deviceID,
		strconv.FormatInt(now.UnixMilli(), 10),
		base64.StdEncoding.EncodeToString(nonce),
		CIDVersion,
	}, "|"), nil
}

// NewCID builds a conversation id for the active profile.
func (c *Client) NewCID() (string, error) {
	profile, err := c.source.ActiveProfile()
	if err != nil {
		return "", err
	}
	cid, err := NewCID(c.provider, profile.DeviceID, c.now())
	if err != nil {
		return "", kerrors.Wrap(kerrors.CodeCryptoError, "generating conversation id", err)
	}
	return cid, nil
}

// Options customizes a single Send.
type Options struct {
	// CID is used when the caller has already bound data to it.
	CID string
	// Nonce is the 16-byte GCM nonce. Generated when empty.
	Nonce []byte
	// Metadata is sent as the envelope's meta object.
	Metadata map[string]any
}

// Response is a decrypted key service reply.
type Response struct {
	// RequestCID is the conversation id the request was sent with.
	RequestCID string
	// Data is the reply's data member.
	Data json.RawMessage
	// Body holds every member of the decrypted reply.
	Body map[string]json.RawMessage
}

type wireEnvelope struct {
	CID      string `json:"cid"`
	Envelope string `json:"envelope"`
}

type contents struct {
	Meta map[string]any `json:"meta"`
	Data any            `json:"data"`
}

// ServerError is the error member of a decrypted reply.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send encrypts data for the active profile, posts it to url and returns the
// decrypted reply.
//
// Returns ErrCryptoError if the envelope cannot be sealed or opened.
// Returns ErrRequestFailed if the service cannot be reached.
// Returns ErrBadResponse if the reply's cid differs or it carries an error.
// Returns ErrParseFailed if the reply is not the expected JSON.
func (c *Client) Send(ctx context.Context, url string, data any, opts Options) (*Response, error) {
	if url == "" || data == nil {
		return nil, kerrors.New(kerrors.CodeBadRequest, "url and data are required")
	}
	profile, err := c.source.ActiveProfile()
	if err != nil {
		return nil, err
	}
	idcKey, err := profile.IDCKeyBytes()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "loading envelope key", err)
	}

	cid := opts.CID
	if cid == "" {
		if cid, err = c.NewCID(); err != nil {
			return nil, err
		}
	}
	nonce := opts.Nonce
	if len(nonce) == 0 {
		if nonce, err = c.provider.RandomBytes(primitives.IVSize); err != nil {
			return nil, kerrors.Wrap(kerrors.CodeCryptoError, "generating nonce", err)
		}
	}

	meta := make(map[string]any, len(opts.Metadata)+2)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	meta["hfphash"] = profile.HfpHash
	if !profile.SentHfpOnce {
		hfp, err := json.Marshal(profile.Hfp)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeParseFailed, "encoding fingerprint", err)
		}
		meta["hfp"] = string(hfp)
		// Persisted before transmission so the fingerprint is never sent twice.
		if err := c.source.MarkHfpSent(ctx, profile.DeviceID); err != nil {
			return nil, kerrors.Wrap(kerrors.CodeUnknown, "recording fingerprint transmission", err)
		}
		c.log.Debugf("Including host fingerprint for device %s", profile.DeviceID)
	}

	plaintext, err := json.Marshal(contents{Meta: meta, Data: data})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeBadRequest, "encoding request", err)
	}
	sealed, err := c.provider.Seal(idcKey, nonce, plaintext, []byte(cid))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "sealing envelope", err)
	}
	body, err := json.Marshal(wireEnvelope{
		CID:      cid,
		Envelope: base64.StdEncoding.EncodeToString(append(append([]byte(nil), nonce...), sealed...)),
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeBadRequest, "encoding envelope", err)
	}

	c.log.Debugf("POST %s (cid %s)", url, cid)
	raw, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var reply wireEnvelope
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "parsing response envelope", err)
	}
	if reply.CID != cid {
		return nil, kerrors.New(kerrors.CodeBadResponse, "cid mismatch: sent %q, received %q", cid, reply.CID)
	}

	decoded, err := base64.StdEncoding.DecodeString(reply.Envelope)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "decoding response envelope", err)
	}
	opened, err := primitives.OpenPacked(c.provider, idcKey, decoded, []byte(reply.CID))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "opening response envelope", err)
	}

	resp := &Response{RequestCID: cid}
	if err := json.Unmarshal(opened, &resp.Body); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "parsing response", err)
	}
	if rawErr, ok := resp.Body["error"]; ok && !isNull(rawErr) {
		var serverErr ServerError
		if err := json.Unmarshal(rawErr, &serverErr); err != nil {
			return nil, kerrors.New(kerrors.CodeBadResponse, "server error: %s", rawErr)
		}
		code := kerrors.FromServer(serverErr.Code, kerrors.CodeBadResponse)
		return nil, kerrors.New(code, "server error %d: %s", serverErr.Code, serverErr.Message)
	}
	resp.Data = resp.Body["data"]
	return resp, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeBadRequest, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeRequestFailed, "posting to "+url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeRequestFailed, "reading response", err)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return nil, kerrors.New(kerrors.CodeRequestFailed, "%s returned %s", url, res.Status)
	}
	return raw, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// DecodeData unmarshals the reply's data member into v.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return kerrors.New(kerrors.CodeParseFailed, "response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return kerrors.Wrap(kerrors.CodeParseFailed, "parsing response data", err)
	}
	return nil
}
