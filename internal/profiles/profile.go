package profiles

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"
)

// Hfp is the host fingerprint sent to the key service once per profile.
type Hfp struct {
	FpType    string `json:"fp_type"`
	OSFamily  string `json:"os_family"`
	OSRelease string `json:"os_release"`
}

// HostFingerprint describes the running host.
func HostFingerprint() Hfp {
	return Hfp{
		FpType:    "com.ionicsecurity.fp." + runtime.GOOS + ".1.0.0",
		OSFamily:  runtime.GOOS,
		OSRelease: runtime.GOARCH,
	}
}

// Hash returns hex(SHA-256(JSON(hfp))).
func (h Hfp) Hash() (string, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DeviceProfile is the credential set issued to one enrolled device.
type DeviceProfile struct {
	Server      string `json:"server"`
	DeviceID    string `json:"device_id"`
	Keyspace    string `json:"keyspace"`
	Hfp         Hfp    `json:"hfp"`
	HfpHash     string `json:"hfp_hash"`
	SentHfpOnce bool   `json:"sentHfpOnce"`
	IDCKey      string `json:"idc_aes_key"`
	KAKey       string `json:"ka_aes_key"`
	CreatedOn   int64  `json:"created_on"`
	Active      bool   `json:"is_active_profile"`
}

// IDCKeyBytes decodes the envelope key.
func (p *DeviceProfile) IDCKeyBytes() ([]byte, error) {
	return decodeKey("idc_aes_key", p.IDCKey)
}

// KAKeyBytes decodes the key-authentication key.
func (p *DeviceProfile) KAKeyBytes() ([]byte, error) {
	return decodeKey("ka_aes_key", p.KAKey)
}

func decodeKey(name, value string) ([]byte, error) {
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s has length %d, expected 32", name, len(key))
	}
	return key, nil
}

// Summary is the caller-safe view of a profile; it carries no key material.
type Summary struct {
	Active   bool   `json:"active"`
	Created  int64  `json:"created"`
	DeviceID string `json:"deviceId"`
	Server   string `json:"server"`
	Keyspace string `json:"keyspace"`
}

// Summarize returns the key-free view of each profile.
func Summarize(profiles []DeviceProfile) []Summary {
	out := make([]Summary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, Summary{
			Active:   p.Active,
			Created:  p.CreatedOn,
			DeviceID: p.DeviceID,
			Server:   p.Server,
			Keyspace: p.Keyspace,
		})
	}
	return out
}
