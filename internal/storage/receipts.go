package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/digkill/QuickDatePay/internal/models"
)

type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Prefix       string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReceiptArchiver writes a JSON receipt to S3 for every applied purchase.
type ReceiptArchiver struct {
	cfg    Config
	client objectPutter
	now    func() time.Time
}

// Receipt is the archived document. User is captured as it was right after the purchase.
type Receipt struct {
	Payment    models.PaymentRecord `json:"payment"`
	User       models.User          `json:"user"`
	ArchivedAt time.Time            `json:"archived_at"`
}

func NewReceiptArchiver(cfg Config) (*ReceiptArchiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return newReceiptArchiver(cfg, s3.New(options)), nil
}

func newReceiptArchiver(cfg Config, client objectPutter) *ReceiptArchiver {
	if cfg.Prefix == "" {
		cfg.Prefix = "receipts"
	}
	return &ReceiptArchiver{
		cfg:    cfg,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *ReceiptArchiver) PurchaseApplied(ctx context.Context, user models.User, record models.PaymentRecord) error {
	_, err := a.Archive(ctx, user, record)
	return err
}

// Archive uploads the receipt and returns its object key.
func (a *ReceiptArchiver) Archive(ctx context.Context, user models.User, record models.PaymentRecord) (string, error) {
	now := a.now()
	body, err := json.Marshal(Receipt{Payment: record, User: user, ArchivedAt: now})
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}

	key := a.generateKey(now, record.Via)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload receipt to s3: %w", err)
	}
	return key, nil
}

func (a *ReceiptArchiver) generateKey(now time.Time, via models.Gateway) string {
	prefix := strings.Trim(a.cfg.Prefix, "/")
	gateway := strings.ToLower(string(via))
	if gateway == "" {
		gateway = "unknown"
	}
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), gateway, uuid.NewString()+".json")
}
