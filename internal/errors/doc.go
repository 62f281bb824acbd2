// Package errors provides typed error values for the keyward client.
//
// Every failure surfaced by the protocol packages carries a numeric Code
// that matches the codes used by the key service SDKs. Callers handle
// specific conditions with errors.Is against the sentinel values rather
// than string matching.
//
// # Error Categories
//
// Errors are grouped by category:
//
//   - Argument errors: missing or malformed input (ErrMissingValue, ErrInvalidValue, ErrBadRequest)
//   - Transport errors: the request never produced a usable reply (ErrRequestFailed, ErrTimeout)
//   - Response errors: the reply was malformed or rejected (ErrParseFailed, ErrBadResponse, ErrKeyDenied)
//   - Crypto errors: encryption, decryption or verification failed (ErrCryptoError, ErrKeyValidationFailure)
//   - Profile errors: the local device profile set is unusable (ErrNoDeviceProfile, ErrCorruptedProfileSet)
//
// # Usage
//
// Classify a failure at the stage that produced it:
//
//	block, err := aes.NewCipher(key)
//	if err != nil {
//	    return nil, kerrors.Wrap(kerrors.CodeCryptoError, "creating cipher", err)
//	}
//
// Wrap keeps the first classification, so outer stages may wrap again
// without masking the original code:
//
//	if err := send(ctx); err != nil {
//	    return kerrors.Wrap(kerrors.CodeRequestFailed, "creating keys", err)
//	}
//
// Handle errors in the CLI layer:
//
//	if errors.Is(err, kerrors.ErrNoDeviceProfile) {
//	    // Suggest enrolling a device
//	}
package errors
