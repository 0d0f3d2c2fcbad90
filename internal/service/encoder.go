package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Encoder turns alert text and reference images into vectors comparable with
// the garment embeddings produced by the attribute pipeline. Both must come
// from the same model family; the returned model version is stored with every
// vector so cross-version contamination can be audited later.
type Encoder interface {
	EncodeText(ctx context.Context, text string) (*EncodeResult, error)
	EncodeImage(ctx context.Context, image []byte) (*EncodeResult, error)
	ModelVersion() string
}

// EncodeResult is one encoded vector plus usage metadata.
type EncodeResult struct {
	Vector     []float32
	TokensUsed int
}

// ClipEncoder calls the external CLIP encoder sidecar over HTTP.
type ClipEncoder struct {
	client       *resty.Client
	modelVersion string
	dimensions   int
}

// ClipEncoderConfig holds connection settings for the encoder sidecar.
type ClipEncoderConfig struct {
	BaseURL      string
	APIKey       string
	ModelVersion string
	Dimensions   int
}

// NewClipEncoder creates an encoder client.
func NewClipEncoder(cfg *ClipEncoderConfig) *ClipEncoder {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = 512
	}

	return &ClipEncoder{
		client:       client,
		modelVersion: cfg.ModelVersion,
		dimensions:   dimensions,
	}
}

// ModelVersion returns the encoder's model version tag.
func (e *ClipEncoder) ModelVersion() string {
	return e.modelVersion
}

type encodeRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // base64
}

type encodeResponse struct {
	Embedding []float32 `json:"embedding"`
	Usage     struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// EncodeText encodes a free-text description.
func (e *ClipEncoder) EncodeText(ctx context.Context, text string) (*EncodeResult, error) {
	return e.call(ctx, "/v1/encode/text", &encodeRequest{
		Model: e.modelVersion,
		Text:  text,
	})
}

// EncodeImage encodes raw image bytes.
func (e *ClipEncoder) EncodeImage(ctx context.Context, image []byte) (*EncodeResult, error) {
	return e.call(ctx, "/v1/encode/image", &encodeRequest{
		Model: e.modelVersion,
		Image: base64.StdEncoding.EncodeToString(image),
	})
}

func (e *ClipEncoder) call(ctx context.Context, path string, req *encodeRequest) (*EncodeResult, error) {
	var resp encodeResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(path)

	if err != nil {
		return nil, fmt.Errorf("failed to call encoder: %w", err)
	}
	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("encoder error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("encoder error: status %d", httpResp.StatusCode())
	}
	if len(resp.Embedding) != e.dimensions {
		return nil, fmt.Errorf("encoder returned %d components, expected %d", len(resp.Embedding), e.dimensions)
	}

	return &EncodeResult{
		Vector:     resp.Embedding,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
