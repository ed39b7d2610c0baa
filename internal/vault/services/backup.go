package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/cryptox"
	"github.com/akorchagin/passvault/internal/logging"
	"github.com/akorchagin/passvault/internal/vault/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// snapshotMagic tags the snapshot container format.
var snapshotMagic = []byte("PVS1")

// BackupOptions configure the object store backing encrypted snapshots.
// Endpoint may point at any S3-compatible service.
type BackupOptions struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Backup exports and restores encrypted snapshots of the whole local store.
// A snapshot is sealed under a random data key, which is itself wrapped
// under a passphrase chosen at export time; the object store never sees
// anything it could open.
type Backup struct {
	db      *sql.DB
	s3c     *s3.Client
	bucket  string
	session *Session
	log     logging.Logger
	device  string
}

func NewBackup(ctx context.Context, db *sql.DB, session *Session, opts BackupOptions, log logging.Logger, device string) (*Backup, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Backup{
		db:      db,
		s3c:     client,
		bucket:  opts.Bucket,
		session: session,
		log:     log,
		device:  device,
	}, nil
}

// encodeSnapshot builds the snapshot container:
//
//	magic(4) ‖ wrapLen(4, BE) ‖ wrapped data key ‖ sealed payload
func encodeSnapshot(raw, passphrase []byte) ([]byte, error) {
	dataKey := cryptox.GenerateKey()
	defer common.WipeByteArray(dataKey)

	sealed, err := cryptox.Seal(dataKey, raw, snapshotMagic)
	if err != nil {
		return nil, err
	}
	wrap, err := cryptox.WrapKey(dataKey, passphrase, cryptox.NewKDFParams())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(wrap)))
	buf.Write(u32[:])
	buf.Write(wrap)
	buf.Write(sealed)
	return buf.Bytes(), nil
}

// decodeSnapshot reverses encodeSnapshot. A wrong passphrase or a tampered
// container fails with common.ErrAuth.
func decodeSnapshot(payload, passphrase []byte) ([]byte, error) {
	if len(payload) < len(snapshotMagic)+4 || !bytes.Equal(payload[:len(snapshotMagic)], snapshotMagic) {
		return nil, fmt.Errorf("not a snapshot container")
	}
	rest := payload[len(snapshotMagic):]
	wrapLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if wrapLen <= 0 || wrapLen > len(rest) {
		return nil, fmt.Errorf("truncated snapshot container")
	}

	dataKey, err := cryptox.UnwrapKey(rest[:wrapLen], passphrase)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dataKey)

	return cryptox.Open(dataKey, rest[wrapLen:], snapshotMagic)
}

// Export takes a consistent copy of the live database, seals it, uploads
// the container, and returns the object key.
func (b *Backup) Export(ctx context.Context, passphrase []byte) (string, error) {
	u, err := b.session.CurrentUser()
	if err != nil {
		return "", err
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("passvault-%d.db", time.Now().UnixNano()))
	defer os.Remove(tmp)

	// VACUUM INTO writes a consistent point-in-time copy without closing
	// the live connection.
	if _, err := b.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}
	raw, err := os.ReadFile(tmp)
	if err != nil {
		return "", err
	}

	payload, err := encodeSnapshot(raw, passphrase)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("snapshots/passvault-%s.snap", time.Now().UTC().Format("20060102T150405Z"))
	_, err = b.s3c.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	b.session.appendAudit(ctx, u, models.AuditActionBackup, "SUCCESS",
		fmt.Sprintf("key=%s bytes=%d", key, len(payload)))
	b.log.Info(ctx, "snapshot exported", "key", key, "bytes", len(payload))
	return key, nil
}

// Restore downloads a snapshot and writes the decrypted database copy to
// destPath. It never overwrites the live database; the caller points the
// next start at the restored file.
func (b *Backup) Restore(ctx context.Context, objectKey string, passphrase []byte, destPath string) error {
	out, err := b.s3c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return err
	}

	raw, err := decodeSnapshot(payload, passphrase)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(raw)

	if err := os.WriteFile(destPath, raw, 0o600); err != nil {
		return err
	}
	b.log.Info(ctx, "snapshot restored", "key", objectKey, "dest", destPath)
	return nil
}

// ListSnapshots returns the object keys of stored snapshots, oldest first.
func (b *Backup) ListSnapshots(ctx context.Context) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.s3c, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String("snapshots/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
