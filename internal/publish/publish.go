// Package publish uploads a site bundle to S3 and points the release SSM
// parameter at it.
package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/portfolio-web/internal/cryptoutil"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/otelx"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// maxBundleSize is the largest bundle the publisher will upload
const maxBundleSize int64 = 50 * 1024 * 1024

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// Signer signs the bundle bytes; cryptoutil.KMSSigner satisfies it.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	KeyID() string
}

type Options struct {
	Logger log.Logger

	// S3 location for bundles: s3://{Bucket}/{Prefix}/{hash}.tar.gz
	Bucket string
	Prefix string

	// SSM parameter holding the released bundle hash
	SSMParam string

	// SigningKeyARN enables a detached KMS signature at {key}.sig
	SigningKeyARN string

	S3     S3API
	SSM    SSMAPI
	Signer Signer
}

type Publisher struct {
	opts   Options
	logger log.Logger
}

// Result describes a publish. Unchanged is set when the parameter already
// pointed at the bundle and nothing was uploaded.
type Result struct {
	Bucket    string
	Key       string
	SigKey    string
	Hash      string
	Unchanged bool
}

func New(opts Options) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("publish: Bucket is required")
	}
	if opts.SSMParam == "" {
		return nil, xerrors.New("publish: SSMParam is required")
	}
	if opts.S3 == nil || opts.SSM == nil {
		return nil, xerrors.New("publish: S3 and SSM clients are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Publisher{opts: opts, logger: opts.Logger}, nil
}

// NewFromConfig builds the AWS clients from cfg. A KMS signer is attached
// when opts.SigningKeyARN is set.
func NewFromConfig(cfg aws.Config, opts Options) (*Publisher, error) {
	opts.S3 = s3.NewFromConfig(cfg)
	opts.SSM = ssm.NewFromConfig(cfg)
	if opts.SigningKeyARN != "" {
		opts.Signer = cryptoutil.NewKMSSigner(kms.NewFromConfig(cfg), opts.SigningKeyARN)
	}
	return New(opts)
}

// ObjectKey returns the S3 object key for a bundle hash.
func ObjectKey(prefix, hash string) string {
	if prefix != "" {
		return fmt.Sprintf("%s/%s.tar.gz", prefix, hash)
	}
	return fmt.Sprintf("%s.tar.gz", hash)
}

// Publish uploads the bundle at path, then its signature, and only then
// moves the SSM parameter, so the parameter never names a missing object.
func (p *Publisher) Publish(ctx context.Context, path, hash string) (res Result, err error) {
	ctx, end := otelx.Stage(ctx, "publish.Publish")
	defer func() { end(err) }()

	res = Result{Bucket: p.opts.Bucket, Key: ObjectKey(p.opts.Prefix, hash), Hash: hash}

	data, err := readBundle(path, hash)
	if err != nil {
		return res, err
	}

	current, err := p.currentHash(ctx)
	if err != nil {
		return res, err
	}
	if current != "" && cryptoutil.HashEqual(current, hash) {
		p.logger.Info(ctx, "bundle already released", "hash", hash, "param", p.opts.SSMParam)
		res.Unchanged = true
		return res, nil
	}

	sum, _ := hex.DecodeString(hash)
	if _, err := p.opts.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(p.opts.Bucket),
		Key:               aws.String(res.Key),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String("application/gzip"),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(base64.StdEncoding.EncodeToString(sum)),
		Metadata:          map[string]string{"sha256": hash},
	}); err != nil {
		return res, xerrors.Wrapf(err, "put s3://%s/%s", p.opts.Bucket, res.Key)
	}
	p.logger.Info(ctx, "bundle uploaded", "bucket", p.opts.Bucket, "key", res.Key, "bytes", len(data))

	if p.opts.Signer != nil {
		sig, err := p.opts.Signer.Sign(ctx, data)
		if err != nil {
			return res, xerrors.Wrap(err, "sign bundle")
		}
		res.SigKey = res.Key + ".sig"
		if _, err := p.opts.S3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.opts.Bucket),
			Key:           aws.String(res.SigKey),
			Body:          bytes.NewReader(sig),
			ContentLength: aws.Int64(int64(len(sig))),
			ContentType:   aws.String("application/octet-stream"),
			Metadata: map[string]string{
				"sha256":     hash,
				"kms-key-id": p.opts.Signer.KeyID(),
			},
		}); err != nil {
			return res, xerrors.Wrapf(err, "put s3://%s/%s", p.opts.Bucket, res.SigKey)
		}
		p.logger.Info(ctx, "bundle signature uploaded", "key", res.SigKey, "kms_key", p.opts.Signer.KeyID())
	}

	if _, err := p.opts.SSM.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(p.opts.SSMParam),
		Value:     aws.String(hash),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	}); err != nil {
		return res, xerrors.Wrapf(err, "put SSM parameter %s", p.opts.SSMParam)
	}

	p.logger.Info(ctx, "bundle released",
		"param", p.opts.SSMParam,
		"hash", hash,
		"previous", current,
	)
	return res, nil
}

// currentHash returns the released hash, or "" when the parameter does not
// exist yet.
func (p *Publisher) currentHash(ctx context.Context) (string, error) {
	out, err := p.opts.SSM.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(p.opts.SSMParam),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if xerrors.As(err, &nf) {
			return "", nil
		}
		return "", xerrors.Wrapf(err, "get SSM parameter %s", p.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(*out.Parameter.Value)), nil
}

// readBundle loads the bundle and checks it against hash.
func readBundle(path, hash string) ([]byte, error) {
	if len(hash) != 64 {
		return nil, xerrors.Newf("bundle hash %q is not a sha256 hex digest", hash)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open bundle %s", path)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBundleSize+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read bundle %s", path)
	}
	if int64(len(data)) > maxBundleSize {
		return nil, xerrors.Newf("bundle %s exceeds %d bytes", path, maxBundleSize)
	}
	if actual := cryptoutil.SHA256Hex(data); !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}
	return data, nil
}
