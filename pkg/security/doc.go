/*
Package security holds burrow's key material handling.

GenerateKeyPair returns a 2048-bit RSA key as PEM together with its
authorized_keys line. GenerateUsername and GeneratePassword produce
throwaway credentials for temporary node users.

Sealer encrypts blobs with AES-256-GCM. The nonce is prepended to the
ciphertext. NewSealerForCluster derives a per-cluster key from a passphrase,
so each cluster's sealed data opens only under its own id.
*/
package security
