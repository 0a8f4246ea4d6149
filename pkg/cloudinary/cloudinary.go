// Package cloudinary uploads listing photos to Cloudinary.
package cloudinary

import (
	"context"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rotisserie/eris"
)

// Client wraps the Cloudinary upload API behind the blob-store shape the
// image acquirer expects.
type Client struct {
	cld *cloudinary.Cloudinary
}

// New creates a client from account credentials.
func New(cloudName, apiKey, apiSecret string) (*Client, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, eris.Wrap(err, "cloudinary: init client")
	}
	return &Client{cld: cld}, nil
}

// Upload pushes a local file into the given folder and returns its
// public URL and asset ID.
func (c *Client) Upload(ctx context.Context, localPath, folder string) (string, string, error) {
	resp, err := c.cld.Upload.Upload(ctx, localPath, uploader.UploadParams{
		Folder: folder,
	})
	if err != nil {
		return "", "", eris.Wrapf(err, "cloudinary: upload %s", localPath)
	}
	if resp.Error.Message != "" {
		return "", "", eris.Errorf("cloudinary: upload %s: %s", localPath, resp.Error.Message)
	}
	return resp.SecureURL, resp.PublicID, nil
}
