// Package enrollment bootstraps trust between a device and the key service.
//
// CreateDevice performs the registration handshake: an ephemeral RSA key
// pair and AES key protect the user's enrollment token on the way to the
// service, and the service returns the device's envelope (IDC) and key
// authentication (KA) keys encrypted to that ephemeral key.
//
// Begin and Complete wrap the handshake in the two-step flow used by
// enrollment portals: Begin records a short-lived pending attempt for a
// user, and Complete consumes it once the portal hands back registration
// parameters, storing the new profile and making it active.
package enrollment
