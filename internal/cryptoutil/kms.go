package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// KMSAPI is the subset of the KMS client used for signing.
type KMSAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

type KMSSigner struct {
	client KMSAPI
	keyARN string

	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

func NewKMSSigner(client KMSAPI, keyARN string) *KMSSigner {
	return &KMSSigner{client: client, keyARN: keyARN}
}

func (s *KMSSigner) KeyID() string { return s.keyARN }

// PublicKey fetches and caches the KMS public key. The first call hits the
// KMS API, later calls return the cached key.
func (s *KMSSigner) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	s.mu.RLock()
	if s.pubKey != nil {
		defer s.mu.RUnlock()
		return s.pubKey, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubKey != nil {
		return s.pubKey, nil
	}

	if s.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := s.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(s.keyARN),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms get public key")
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", s.keyARN, out.KeyUsage)
	}

	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}

	s.pubKey = pub
	return s.pubKey, nil
}

// Sign signs message with the KMS key and verifies the result locally
// against the cached public key before returning it.
func (s *KMSSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	pub, err := s.PublicKey(ctx)
	if err != nil {
		return nil, err
	}

	alg, digest, err := signingDigest(pub, message)
	if err != nil {
		return nil, err
	}

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyARN),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: alg,
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms sign (%s)", alg)
	}

	if err := verify(pub, message, out.Signature); err != nil {
		return nil, xerrors.Wrap(err, "kms returned a signature that does not verify")
	}
	return out.Signature, nil
}

// VerifySignature verifies signature over message with the KMS public key.
func (s *KMSSigner) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := s.PublicKey(ctx)
	if err != nil {
		return err
	}
	return verify(pub, message, signature)
}

func signingDigest(pub crypto.PublicKey, message []byte) (kmstypes.SigningAlgorithmSpec, []byte, error) {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		h, digest, err := ecdsaDigest(key, message)
		if err != nil {
			return "", nil, err
		}
		if h == crypto.SHA384 {
			return kmstypes.SigningAlgorithmSpecEcdsaSha384, digest, nil
		}
		return kmstypes.SigningAlgorithmSpecEcdsaSha256, digest, nil
	case *rsa.PublicKey:
		d := sha256.Sum256(message)
		return kmstypes.SigningAlgorithmSpecRsassaPssSha256, d[:], nil
	default:
		return "", nil, xerrors.Newf("unsupported public key type: %T", pub)
	}
}

func verify(pub crypto.PublicKey, message, signature []byte) error {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, message, signature)
	case *rsa.PublicKey:
		return verifyRSA(key, message, signature)
	default:
		return xerrors.Newf("unsupported public key type: %T", pub)
	}
}

func verifyECDSA(key *ecdsa.PublicKey, message, signature []byte) error {
	hashFunc, digest, err := ecdsaDigest(key, message)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(key, digest, signature) {
		return xerrors.Newf("ECDSA signature verification failed. hash: %s, curve: %s", hashFunc.String(), key.Curve.Params().Name)
	}
	return nil
}

// ecdsaDigest selects the hash function from the curve and digests message.
func ecdsaDigest(key *ecdsa.PublicKey, message []byte) (crypto.Hash, []byte, error) {
	switch key.Curve {
	case elliptic.P256():
		d := sha256.Sum256(message)
		return crypto.SHA256, d[:], nil
	case elliptic.P384():
		d := sha512.Sum384(message)
		return crypto.SHA384, d[:], nil
	default:
		return 0, nil, xerrors.Newf("unsupported ECDSA curve: %v", key.Curve.Params().Name)
	}
}

func verifyRSA(key *rsa.PublicKey, message, signature []byte) error {
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil); err != nil {
		return xerrors.Wrap(err, "RSA-PSS verification failed")
	}
	return nil
}
