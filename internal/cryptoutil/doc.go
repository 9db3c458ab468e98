// Package cryptoutil signs published bundles with an AWS KMS asymmetric key
// and provides the hashing helpers used around them.
//
// Signatures are made over a locally computed digest (MessageType DIGEST):
//   - ECDSA P-256: SHA-256, ECDSA_SHA_256
//   - ECDSA P-384: SHA-384, ECDSA_SHA_384
//   - RSA: SHA-256, RSASSA_PSS_SHA_256
package cryptoutil
