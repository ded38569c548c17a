// Package kms wraps AWS KMS for facilitator key encryption. The signing
// key never touches the database or environment in plaintext when KMS is
// configured; only the ciphertext does.
package kms

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
)

// Config selects the KMS key used for envelope encryption.
type Config struct {
	Region string
	KeyID  string
}

// Client is a thin wrapper over the AWS KMS service client bound to one
// key.
type Client struct {
	svc   *awskms.Client
	keyID string
}

// New loads the default AWS credential chain and binds the client to the
// configured key.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.Region == "" || cfg.KeyID == "" {
		return nil, fmt.Errorf("kms requires both region and key id")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{svc: awskms.NewFromConfig(awsCfg), keyID: cfg.KeyID}, nil
}

// KeyID returns the bound key identifier.
func (c *Client) KeyID() string { return c.keyID }

// Encrypt encrypts a plaintext secret and returns the base64 ciphertext.
func (c *Client) Encrypt(ctx context.Context, plaintext string) (string, error) {
	out, err := c.svc.Encrypt(ctx, &awskms.EncryptInput{
		KeyId:     &c.keyID,
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

// Decrypt reverses Encrypt.
func (c *Client) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	out, err := c.svc.Decrypt(ctx, &awskms.DecryptInput{
		KeyId:          &c.keyID,
		CiphertextBlob: blob,
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt: %w", err)
	}
	return string(out.Plaintext), nil
}
