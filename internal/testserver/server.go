// Package testserver runs an in-process key service for tests. It speaks
// the enrollment, enveloped request and key lifecycle protocols with real
// cryptography.
package testserver

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/PolarWolf314/keyward/internal/primitives"
	"github.com/google/uuid"
)

// StoredKey is a protection key held by the server.
type StoredKey struct {
	ID     string
	Ref    string
	Key    []byte
	Cattrs string
	Mattrs string
	Msig   string
}

type device struct {
	id     string
	idcKey []byte
	kaKey  []byte
}

// Server is a fake key service.
type Server struct {
	*httptest.Server

	Provider   *primitives.Standard
	PrivateKey *rsa.PrivateKey

	// ReplyCID, when set, rewrites the cid of every enveloped reply.
	ReplyCID func(cid string) string
	// Error, when set, is returned inside every enveloped reply.
	Error *ServerError
	// TamperFetch, when true, corrupts the first byte of every fetched csig.
	TamperFetch bool
	// TamperModify, when true, returns wrong update signatures.
	TamperModify bool

	mu      sync.Mutex
	devices map[string]*device
	keys    map[string]*StoredKey
	metas   []map[string]any
	seq     int
}

// ServerError is the error member of an enveloped reply.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// New starts a server with a fresh RSA key. It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	p := primitives.New()
	priv, err := rsa.GenerateKey(p.Rand, 2048)
	if err != nil {
		t.Fatalf("Failed to generate server key: %v", err)
	}

	s := &Server{
		Provider:   p,
		PrivateKey: priv,
		devices:    make(map[string]*device),
		keys:       make(map[string]*StoredKey),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2.3/register/", s.handleRegister)
	mux.HandleFunc("/v2.4/keys/create", s.enveloped(s.handleCreate))
	mux.HandleFunc("/v2.4/keys/fetch", s.enveloped(s.handleFetch))
	mux.HandleFunc("/v2.4/keys/modify", s.enveloped(s.handleModify))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// PublicKeyBase64 returns base64(SPKI DER) of the server key.
func (s *Server) PublicKeyBase64() string {
	der, err := primitives.MarshalPublicKey(&s.PrivateKey.PublicKey)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

// Metas returns the decrypted meta objects of every enveloped request.
func (s *Server) Metas() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.metas...)
}

// Key returns a copy of a stored key.
func (s *Server) Key(id string) (StoredKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return StoredKey{}, false
	}
	return *k, true
}

// SetAttributes replaces the immutable attributes JSON of a stored key.
func (s *Server) SetAttributes(id, cattrs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.Cattrs = cattrs
	}
}

// Protect encrypts value as a protected attribute of the stored key id.
func (s *Server) Protect(id, value string) string {
	k, ok := s.Key(id)
	if !ok {
		panic("unknown key " + id)
	}
	packed, err := primitives.SealPacked(s.Provider, k.Key, []byte(value), []byte(id))
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(packed)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Conversation-ID") == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	var req struct {
		K string `json:"k"`
		P string `json:"p"`
		S string `json:"s"`
		G string `json:"g"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if keyspace := strings.TrimPrefix(r.URL.Path, "/v2.3/register/"); keyspace != req.K {
		http.Error(w, "keyspace mismatch", http.StatusBadRequest)
		return
	}

	encKey, _ := base64.StdEncoding.DecodeString(req.S)
	aesKey, err := s.Provider.DecryptOAEP(s.PrivateKey, encKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := base64.StdEncoding.DecodeString(req.P)
	if err != nil || len(p) < primitives.IVSize {
		http.Error(w, "bad p", http.StatusBadRequest)
		return
	}
	authJSON, err := s.Provider.CTR(aesKey, p[:primitives.IVSize], p[primitives.IVSize:])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var auth struct {
		PubKey string `json:"tkRespPubKDERB64"`
		Auth   string `json:"AUTH"`
	}
	if err := json.Unmarshal(authJSON, &auth); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	der, _ := base64.StdEncoding.DecodeString(auth.PubKey)
	ephemeral, err := primitives.ParsePublicKey(der)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := verifyPSS(ephemeral, []byte(req.P), req.G); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	d := &device{id: "D" + uuid.NewString()[:8]}
	d.idcKey, _ = s.Provider.RandomBytes(primitives.KeySize)
	d.kaKey, _ = s.Provider.RandomBytes(primitives.KeySize)

	encIDC, err := s.Provider.EncryptOAEP(ephemeral, d.idcKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	iv, _ := s.Provider.RandomBytes(primitives.IVSize)
	encKA, _ := s.Provider.CTR(aesKey, iv, d.kaKey)

	s.mu.Lock()
	s.devices[d.id] = d
	s.mu.Unlock()

	writeJSON(w, map[string]string{
		"deviceID":    d.id,
		"SEPAESK-IDC": base64.StdEncoding.EncodeToString(encIDC),
		"SEPAESK":     base64.StdEncoding.EncodeToString(append(iv, encKA...)),
	})
}

type envelopeHandler func(d *device, cid string, data json.RawMessage) (any, error)

func (s *Server) enveloped(h envelopeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CID      string `json:"cid"`
			Envelope string `json:"envelope"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		parts := strings.Split(req.CID, "|")
		if len(parts) != 5 || parts[0] != "CID" {
			http.Error(w, "bad cid", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		d, ok := s.devices[parts[1]]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown device", http.StatusUnauthorized)
			return
		}

		raw, _ := base64.StdEncoding.DecodeString(req.Envelope)
		plaintext, err := primitives.OpenPacked(s.Provider, d.idcKey, raw, []byte(req.CID))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		var contents struct {
			Meta map[string]any  `json:"meta"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(plaintext, &contents); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.metas = append(s.metas, contents.Meta)
		s.mu.Unlock()

		reply := map[string]any{}
		if s.Error != nil {
			reply["error"] = s.Error
		} else {
			data, err := h(d, req.CID, contents.Data)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reply["data"] = data
		}

		out, _ := json.Marshal(reply)
		replyCID := req.CID
		if s.ReplyCID != nil {
			replyCID = s.ReplyCID(req.CID)
		}
		packed, err := primitives.SealPacked(s.Provider, d.idcKey, out, []byte(replyCID))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{
			"cid":      replyCID,
			"envelope": base64.StdEncoding.EncodeToString(packed),
		})
	}
}

func (s *Server) nextID() string {
	s.seq++
	return fmt.Sprintf("K%07d", s.seq)
}

func (s *Server) sealKey(d *device, key []byte, aad string) (string, error) {
	packed, err := primitives.SealPacked(s.Provider, d.kaKey, key, []byte(aad))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(packed), nil
}

func (s *Server) handleCreate(d *device, cid string, data json.RawMessage) (any, error) {
	var req struct {
		Keys []struct {
			Qty    int    `json:"qty"`
			Ref    string `json:"ref"`
			Cattrs string `json:"cattrs"`
			Csig   string `json:"csig"`
			Mattrs string `json:"mattrs"`
			Msig   string `json:"msig"`
		} `json:"protection-keys"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	type created struct {
		ID  string `json:"id"`
		Ref string `json:"ref"`
		Key string `json:"key"`
	}
	out := []created{}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range req.Keys {
		for i := 0; i < k.Qty; i++ {
			id := s.nextID()
			key, _ := s.Provider.RandomBytes(primitives.KeySize)
			aad := strings.Join([]string{cid, k.Ref, id, k.Csig, k.Msig}, ":")
			enc, err := s.sealKey(d, key, aad)
			if err != nil {
				return nil, err
			}
			s.keys[id] = &StoredKey{ID: id, Ref: k.Ref, Key: key, Cattrs: k.Cattrs, Mattrs: k.Mattrs, Msig: k.Msig}
			out = append(out, created{ID: id, Ref: k.Ref, Key: enc})
		}
	}
	return map[string]any{"protection-keys": out}, nil
}

func (s *Server) handleFetch(d *device, cid string, data json.RawMessage) (any, error) {
	var req struct {
		IDs []string `json:"protection-keys"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	type fetched struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Cattrs string `json:"cattrs,omitempty"`
		Csig   string `json:"csig,omitempty"`
		Mattrs string `json:"mattrs,omitempty"`
		Msig   string `json:"msig,omitempty"`
	}
	out := []fetched{}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range req.IDs {
		k, ok := s.keys[id]
		if !ok {
			continue
		}
		f := fetched{ID: id, Cattrs: k.Cattrs, Mattrs: k.Mattrs}
		if k.Cattrs != "" {
			f.Csig = s.attrSig(k.Key, k.Cattrs)
			if s.TamperFetch {
				f.Csig = tamper(f.Csig)
			}
		}
		if k.Mattrs != "" {
			f.Msig = s.attrSig(k.Key, k.Mattrs)
		}

		aad := []string{cid, id}
		if f.Csig != "" {
			aad = append(aad, f.Csig)
		}
		if f.Msig != "" {
			aad = append(aad, f.Msig)
		}
		enc, err := s.sealKey(d, k.Key, strings.Join(aad, ":"))
		if err != nil {
			return nil, err
		}
		f.Key = enc
		out = append(out, f)
	}
	return map[string]any{"protection-keys": out}, nil
}

func (s *Server) handleModify(d *device, cid string, data json.RawMessage) (any, error) {
	var req struct {
		Keys []struct {
			ID       string `json:"id"`
			PrevCsig string `json:"prevcsig"`
			PrevMsig string `json:"prevmsig"`
			Force    bool   `json:"force"`
			Mattrs   string `json:"mattrs"`
			Msig     string `json:"msig"`
		} `json:"protection-keys"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	type modified struct {
		ID   string `json:"id"`
		Sigs string `json:"sigs"`
	}
	out := []modified{}
	errorMap := map[string]ServerError{}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Reverse order so clients cannot rely on positional matching.
	for i := len(req.Keys) - 1; i >= 0; i-- {
		k := req.Keys[i]
		stored, ok := s.keys[k.ID]
		if !ok {
			errorMap[k.ID] = ServerError{Code: 4020, Message: "key denied"}
			continue
		}
		if !k.Force && k.PrevMsig != stored.Msig {
			errorMap[k.ID] = ServerError{Code: 4202, Message: "stale attributes"}
			continue
		}
		stored.Mattrs = k.Mattrs
		stored.Msig = k.Msig

		expected := k.ID + ":" + strings.Join([]string{k.PrevCsig, "", k.PrevMsig, k.Msig}, ",")
		sigs := base64.StdEncoding.EncodeToString(s.Provider.HMAC(d.kaKey, []byte(expected)))
		if s.TamperModify {
			sigs = tamper(sigs)
		}
		out = append(out, modified{ID: k.ID, Sigs: sigs})
	}
	return map[string]any{"protection-keys": out, "errorMap": errorMap}, nil
}

func (s *Server) attrSig(key []byte, attrs string) string {
	return base64.StdEncoding.EncodeToString(s.Provider.HMAC(key, []byte(attrs)))
}

func tamper(sig string) string {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(raw) == 0 {
		return sig
	}
	raw[0] ^= 0x01
	return base64.StdEncoding.EncodeToString(raw)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
