// Package filecipher reads and writes version 1.2 encrypted file containers.
//
// A container is a JSON header terminated by CRLF CRLF, followed by the IV of
// the encrypted digest, the 32-byte encrypted digest, and the ciphertext
// segments. Each segment carries its own 16-byte IV and at most SegmentSize
// bytes of AES-256-CTR ciphertext. The digest is the HMAC-SHA256 of the
// concatenated per-segment HMACs, all keyed with the file key.
//
// Decrypt also accepts containers embedded in a ZIP archive
// (ionic/embed.ion), in an armored CSV, or in a PDF stream.
package filecipher
