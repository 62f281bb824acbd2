package enrollment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/PolarWolf314/keyward/internal/profiles"
	"github.com/PolarWolf314/keyward/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Enroller registers devices with the key service.
type Enroller struct {
	http     Doer
	provider primitives.Provider
	store    *profiles.Store
	pending  storage.Backend
	log      logger.Logger
	now      func() time.Time
}

// New returns an Enroller. store and pending are only needed for Begin and
// Complete; pending holds the in-flight enrollment attempt.
func New(doer Doer, provider primitives.Provider, store *profiles.Store, pending storage.Backend, log logger.Logger) *Enroller {
	if doer == nil {
		doer = cleanhttp.DefaultPooledClient()
	}
	if provider == nil {
		provider = primitives.New()
	}
	return &Enroller{http: doer, provider: provider, store: store, pending: pending, log: log, now: time.Now}
}

// Request holds the registration parameters handed out by an enrollment portal.
type Request struct {
	// ServerPublicKey is base64 SPKI DER, or base64 of that base64 text.
	ServerPublicKey string
	Keyspace        string
	APIURL          string
	SToken          string
	UIDAuth         string
}

type authObject struct {
	PubKey string `json:"tkRespPubKDERB64"`
	Auth   string `json:"AUTH"`
}

type registerRequest struct {
	K string `json:"k"`
	P string `json:"p"`
	S string `json:"s"`
	G string `json:"g"`
}

type registerResponse struct {
	DeviceID  string `json:"deviceID"`
	SepIDCKey string `json:"SEPAESK-IDC"`
	SepKAKey  string `json:"SEPAESK"`
}

func (r Request) validate() error {
	missing := []string{}
	if r.SToken == "" {
		missing = append(missing, "sToken")
	}
	if r.UIDAuth == "" {
		missing = append(missing, "uidAuth")
	}
	if r.Keyspace == "" {
		missing = append(missing, "keyspace")
	}
	if r.APIURL == "" {
		missing = append(missing, "apiUrl")
	}
	if r.ServerPublicKey == "" {
		missing = append(missing, "publicKey")
	}
	if len(missing) > 0 {
		return kerrors.New(kerrors.CodeInvalidValue, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// CreateDevice registers a new device and returns its active profile.
//
// Returns ErrInvalidValue if a parameter is empty.
// Returns ErrCryptoError if a key cannot be generated, imported or used.
// Returns ErrRequestFailed if the service cannot be reached or refuses.
// Returns ErrParseFailed if the service's reply is malformed.
func (e *Enroller) CreateDevice(ctx context.Context, req Request) (*profiles.DeviceProfile, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	apiURL := strings.TrimRight(req.APIURL, "/")

	hfp := profiles.HostFingerprint()
	profile := &profiles.DeviceProfile{
		Server:   apiURL,
		Keyspace: req.Keyspace,
		Hfp:      hfp,
	}

	ephemeral, err := e.provider.GenerateRSAKey()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "generating ephemeral key", err)
	}
	aesKey, err := e.provider.RandomBytes(primitives.KeySize)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "generating transport key", err)
	}
	iv, err := e.provider.RandomBytes(primitives.IVSize)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "generating iv", err)
	}

	pubDER, err := primitives.MarshalPublicKey(&ephemeral.PublicKey)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encoding ephemeral key", err)
	}
	authJSON, err := json.Marshal(authObject{
		PubKey: base64.StdEncoding.EncodeToString(pubDER),
		Auth:   base64.StdEncoding.EncodeToString([]byte(req.SToken + "," + req.UIDAuth)),
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encoding auth data", err)
	}
	encAuth, err := e.provider.CTR(aesKey, iv, authJSON)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encrypting auth data", err)
	}
	p := base64.StdEncoding.EncodeToString(append(append([]byte(nil), iv...), encAuth...))

	serverPub, err := parseServerKey(req.ServerPublicKey)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "importing server public key", err)
	}
	encKey, err := e.provider.EncryptOAEP(serverPub, aesKey)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encrypting transport key", err)
	}
	sig, err := e.provider.SignPSS(ephemeral, []byte(p))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "signing auth payload", err)
	}

	body, err := json.Marshal(registerRequest{
		K: req.Keyspace,
		P: p,
		S: base64.StdEncoding.EncodeToString(encKey),
		G: base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeBadRequest, "encoding registration", err)
	}

	e.log.Infof("Registering device in keyspace %s", req.Keyspace)
	raw, err := e.post(ctx, apiURL+"/v2.3/register/"+req.Keyspace, body)
	if err != nil {
		return nil, err
	}

	var reply registerResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "parsing registration response", err)
	}
	if reply.DeviceID == "" || reply.SepIDCKey == "" || reply.SepKAKey == "" {
		return nil, kerrors.New(kerrors.CodeParseFailed, "registration response is missing fields")
	}
	encIDC, err := base64.StdEncoding.DecodeString(reply.SepIDCKey)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "decoding SEPAESK-IDC", err)
	}
	encKA, err := base64.StdEncoding.DecodeString(reply.SepKAKey)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeParseFailed, "decoding SEPAESK", err)
	}
	if len(encKA) < primitives.IVSize {
		return nil, kerrors.New(kerrors.CodeParseFailed, "SEPAESK is too short")
	}

	idcKey, err := e.provider.DecryptOAEP(ephemeral, encIDC)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "decrypting envelope key", err)
	}
	kaKey, err := e.provider.CTR(aesKey, encKA[:primitives.IVSize], encKA[primitives.IVSize:])
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "decrypting key authentication key", err)
	}

	hash, err := hfp.Hash()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeCryptoError, "hashing fingerprint", err)
	}
	profile.DeviceID = reply.DeviceID
	profile.HfpHash = hash
	profile.IDCKey = hex.EncodeToString(idcKey)
	profile.KAKey = hex.EncodeToString(kaKey)
	profile.CreatedOn = e.now().UnixMilli()
	profile.Active = true

	e.log.Infof("Enrolled device %s", profile.DeviceID)
	return profile, nil
}

func (e *Enroller) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeInvalidValue, "building registration request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Conversation-ID", uuid.NewString())

	res, err := e.http.Do(req)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeRequestFailed, "posting registration", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeRequestFailed, "reading registration response", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, kerrors.New(kerrors.CodeRequestFailed, "registration returned %s: %s",
			res.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
