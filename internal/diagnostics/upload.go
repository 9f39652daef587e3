package diagnostics

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
)

const DefaultMclogsAPIURL = "https://api.mclo.gs/1/log"

const (
	ErrMissingUploadAPIURL = errors.Sentinel("diagnostics: upload api url is required")
	ErrUploadRejected      = errors.Sentinel("diagnostics: upload rejected by paste service")
)

// pasteResponse is the reply shape of the mclo.gs paste API.
type pasteResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
	Raw     string `json:"raw"`
	Error   string `json:"error"`
}

// UploadReport posts a rendered report to an mclo.gs compatible paste service
// and returns the public URL of the paste.
func UploadReport(ctx context.Context, apiURL string, content string) (string, error) {
	if apiURL == "" {
		return "", ErrMissingUploadAPIURL
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", errors.Wrap(err, "diagnostics: invalid upload api url")
	}

	// The paste API takes the log as a multipart form field named "content".
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	if err := mw.WriteField("content", content); err != nil {
		return "", errors.Wrap(err, "diagnostics: building upload form")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "diagnostics: building upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &form)
	if err != nil {
		return "", errors.WithStackIf(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "diagnostics: uploading report")
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "diagnostics: reading upload response")
	}
	if res.StatusCode != http.StatusOK {
		return "", errors.Errorf("diagnostics: upload failed with status %s: %s", res.Status, string(body))
	}

	var paste pasteResponse
	if err := json.Unmarshal(body, &paste); err != nil {
		return "", errors.Wrap(err, "diagnostics: decoding upload response")
	}
	if !paste.Success {
		if paste.Error != "" {
			return "", errors.WrapIf(ErrUploadRejected, paste.Error)
		}
		return "", ErrUploadRejected
	}
	if paste.URL == "" {
		return "", errors.New("diagnostics: upload response carries no url")
	}
	return paste.URL, nil
}
