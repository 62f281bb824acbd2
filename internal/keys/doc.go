// Package keys implements the protection key lifecycle: creating keys,
// fetching them by id, and updating their mutable attributes.
//
// Every key travels from the service wrapped in AES-256-GCM under the
// profile's KA key, with additional data binding it to the conversation
// id and to the attribute signatures sent or received with it. Attribute
// JSON is signed by the client on the way out and verified against the
// decrypted key on the way back.
//
// Failures that affect the whole call are returned as errors. Failures that
// affect single keys (a bad signature, a stale update) are collected in
// the result's ErrorMap so the remaining keys are still usable.
package keys
