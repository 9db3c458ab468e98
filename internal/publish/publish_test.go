package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/portfolio-web/internal/cryptoutil"
)

type recorder struct {
	calls []string
}

type fakeS3 struct {
	rec     *recorder
	objects map[string][]byte
	meta    map[string]map[string]string
	failKey string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.rec.calls = append(f.rec.calls, "s3:"+key)
	if f.failKey != "" && strings.HasSuffix(key, f.failKey) {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.meta = map[string]map[string]string{}
	}
	f.objects[key] = body
	f.meta[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

type fakeSSM struct {
	rec     *recorder
	value   string
	getErr  error
	putErr  error
	putName string
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.rec.calls = append(f.rec.calls, "ssm:get")
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.value == "" {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("not found")}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

func (f *fakeSSM) PutParameter(ctx context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.rec.calls = append(f.rec.calls, "ssm:put")
	if f.putErr != nil {
		return nil, f.putErr
	}
	if !aws.ToBool(in.Overwrite) {
		return nil, errors.New("overwrite not set")
	}
	f.putName = aws.ToString(in.Name)
	f.value = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{}, nil
}

type fakeSigner struct {
	rec *recorder
	err error
}

func (f *fakeSigner) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	f.rec.calls = append(f.rec.calls, "kms:sign")
	if f.err != nil {
		return nil, f.err
	}
	return []byte("sig:" + cryptoutil.SHA256Hex(msg)), nil
}

func (f *fakeSigner) KeyID() string { return "arn:aws:kms:us-east-1:111122223333:key/test" }

func writeBundle(t *testing.T, data string) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.tar.gz")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, cryptoutil.SHA256Hex([]byte(data))
}

func newTestPublisher(t *testing.T, s3c *fakeS3, ssmc *fakeSSM, signer Signer) *Publisher {
	t.Helper()
	opts := Options{
		Bucket:   "site-bundles",
		Prefix:   "/portfolio/",
		SSMParam: "/portfolio/site/hash",
		S3:       s3c,
		SSM:      ssmc,
	}
	if signer != nil {
		opts.Signer = signer
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	rec := &recorder{}
	cases := []struct {
		name string
		opts Options
	}{
		{"no bucket", Options{SSMParam: "/p", S3: &fakeS3{rec: rec}, SSM: &fakeSSM{rec: rec}}},
		{"no param", Options{Bucket: "b", S3: &fakeS3{rec: rec}, SSM: &fakeSSM{rec: rec}}},
		{"no clients", Options{Bucket: "b", SSMParam: "/p"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("a/b", "abc"); got != "a/b/abc.tar.gz" {
		t.Fatalf("ObjectKey = %q", got)
	}
	if got := ObjectKey("", "abc"); got != "abc.tar.gz" {
		t.Fatalf("ObjectKey = %q", got)
	}
}

func TestPublish_UploadsSignsThenReleases(t *testing.T) {
	rec := &recorder{}
	s3c := &fakeS3{rec: rec}
	ssmc := &fakeSSM{rec: rec, value: strings.Repeat("0", 64)}
	p := newTestPublisher(t, s3c, ssmc, &fakeSigner{rec: rec})

	path, hash := writeBundle(t, "bundle-bytes")
	res, err := p.Publish(context.Background(), path, hash)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	key := "portfolio/" + hash + ".tar.gz"
	want := []string{"ssm:get", "s3:" + key, "kms:sign", "s3:" + key + ".sig", "ssm:put"}
	if strings.Join(rec.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	if res.Key != key || res.SigKey != key+".sig" || res.Unchanged {
		t.Fatalf("unexpected result %+v", res)
	}
	if string(s3c.objects[key]) != "bundle-bytes" {
		t.Fatalf("object body = %q", s3c.objects[key])
	}
	if s3c.meta[key]["sha256"] != hash {
		t.Fatalf("object metadata = %v", s3c.meta[key])
	}
	if string(s3c.objects[key+".sig"]) != "sig:"+hash {
		t.Fatalf("signature body = %q", s3c.objects[key+".sig"])
	}
	if ssmc.value != hash || ssmc.putName != "/portfolio/site/hash" {
		t.Fatalf("ssm = %q %q", ssmc.putName, ssmc.value)
	}
}

func TestPublish_NoSigner(t *testing.T) {
	rec := &recorder{}
	s3c := &fakeS3{rec: rec}
	ssmc := &fakeSSM{rec: rec}
	p := newTestPublisher(t, s3c, ssmc, nil)

	path, hash := writeBundle(t, "bundle-bytes")
	res, err := p.Publish(context.Background(), path, hash)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.SigKey != "" {
		t.Fatalf("SigKey = %q, want empty", res.SigKey)
	}
	if len(s3c.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(s3c.objects))
	}
	if ssmc.value != hash {
		t.Fatalf("ssm value = %q", ssmc.value)
	}
}

func TestPublish_UnchangedSkipsUpload(t *testing.T) {
	rec := &recorder{}
	s3c := &fakeS3{rec: rec}
	path, hash := writeBundle(t, "bundle-bytes")
	ssmc := &fakeSSM{rec: rec, value: strings.ToUpper(hash)}
	p := newTestPublisher(t, s3c, ssmc, nil)

	res, err := p.Publish(context.Background(), path, hash)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Unchanged {
		t.Fatal("expected Unchanged")
	}
	if len(rec.calls) != 1 || rec.calls[0] != "ssm:get" {
		t.Fatalf("calls = %v", rec.calls)
	}
}

func TestPublish_ChecksumMismatch(t *testing.T) {
	rec := &recorder{}
	p := newTestPublisher(t, &fakeS3{rec: rec}, &fakeSSM{rec: rec}, nil)

	path, _ := writeBundle(t, "bundle-bytes")
	_, err := p.Publish(context.Background(), path, strings.Repeat("a", 64))
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("calls = %v, want none", rec.calls)
	}
}

func TestPublish_BadHash(t *testing.T) {
	rec := &recorder{}
	p := newTestPublisher(t, &fakeS3{rec: rec}, &fakeSSM{rec: rec}, nil)
	path, _ := writeBundle(t, "x")
	if _, err := p.Publish(context.Background(), path, "abc"); err == nil {
		t.Fatal("expected error for short hash")
	}
}

func TestPublish_FailuresNeverMoveParameter(t *testing.T) {
	cases := []struct {
		name    string
		failKey string
		signErr error
	}{
		{"bundle upload", ".tar.gz", nil},
		{"sign", "", errors.New("kms throttled")},
		{"signature upload", ".sig", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			ssmc := &fakeSSM{rec: rec}
			p := newTestPublisher(t, &fakeS3{rec: rec, failKey: tc.failKey}, ssmc, &fakeSigner{rec: rec, err: tc.signErr})

			path, hash := writeBundle(t, "bundle-bytes")
			if _, err := p.Publish(context.Background(), path, hash); err == nil {
				t.Fatal("expected error")
			}
			for _, c := range rec.calls {
				if c == "ssm:put" {
					t.Fatalf("parameter moved after failure: %v", rec.calls)
				}
			}
			if ssmc.value != "" {
				t.Fatalf("ssm value = %q, want empty", ssmc.value)
			}
		})
	}
}

func TestPublish_GetParameterError(t *testing.T) {
	rec := &recorder{}
	p := newTestPublisher(t, &fakeS3{rec: rec}, &fakeSSM{rec: rec, getErr: errors.New("throttled")}, nil)
	path, hash := writeBundle(t, "bundle-bytes")
	if _, err := p.Publish(context.Background(), path, hash); err == nil {
		t.Fatal("expected error")
	}
	if len(rec.calls) != 1 {
		t.Fatalf("calls = %v", rec.calls)
	}
}

func TestPublish_PutParameterError(t *testing.T) {
	rec := &recorder{}
	p := newTestPublisher(t, &fakeS3{rec: rec}, &fakeSSM{rec: rec, putErr: errors.New("denied")}, nil)
	path, hash := writeBundle(t, "bundle-bytes")
	_, err := p.Publish(context.Background(), path, hash)
	if err == nil || !strings.Contains(err.Error(), "/portfolio/site/hash") {
		t.Fatalf("err = %v", err)
	}
}

func TestPublish_MissingFile(t *testing.T) {
	rec := &recorder{}
	p := newTestPublisher(t, &fakeS3{rec: rec}, &fakeSSM{rec: rec}, nil)
	if _, err := p.Publish(context.Background(), filepath.Join(t.TempDir(), "nope.tar.gz"), strings.Repeat("a", 64)); err == nil {
		t.Fatal("expected error")
	}
}
