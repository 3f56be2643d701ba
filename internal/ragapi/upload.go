package ragapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

type UploadRequest struct {
	UploadID    string
	Filename    string
	ContentType string
	Body        io.Reader
	// ProcessMode is one of "full", "text_only", "ocr_only".
	ProcessMode string
}

type UploadResponse struct {
	Success    bool   `json:"success"`
	IsImage    bool   `json:"is_image"`
	Chunks     int    `json:"chunks,omitempty"`
	Filename   string `json:"filename"`
	FileHash   string `json:"file_hash,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	ProgressID string `json:"progress_id,omitempty"`
	ChatID     string `json:"chat_id,omitempty"`
}

// Progress is the raw record behind GET /api/upload/progress/{id}.
type Progress struct {
	Status         string  `json:"status"`
	Attempt        int     `json:"attempt"`
	WaitingSeconds float64 `json:"waiting_seconds"`
	Completed      bool    `json:"completed"`
	Error          string  `json:"error,omitempty"`
	Filename       string  `json:"filename,omitempty"`
	Chunks         int     `json:"chunks,omitempty"`
}

type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Date string `json:"date"`
}

// Upload sends one file for ingestion. A server-side rejection is not an
// error: it comes back as a response with Success=false and the server's
// message. The returned error is reserved for transport failures and
// answers that carry no usable body.
func (c *Client) Upload(ctx context.Context, in UploadRequest) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, in))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", in.Filename, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}

	var out UploadResponse
	decodeErr := json.Unmarshal(respBody, &out)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return nil, fmt.Errorf("unmarshal upload response: %w", decodeErr)
		}
		return &out, nil
	}
	if decodeErr == nil && out.Error != "" {
		out.Success = false
		return &out, nil
	}
	return nil, fmt.Errorf("upload %s: %w", in.Filename, newAPIError(resp.StatusCode, respBody))
}

func writeUploadForm(mw *multipart.Writer, in UploadRequest) error {
	fields := [][2]string{
		{"upload_id", in.UploadID},
		{"process_mode", in.ProcessMode},
		{"process_images", strconv.FormatBool(in.ProcessMode != "text_only")},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, in.Filename))
	ct := in.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if in.Body != nil {
		if _, err := io.Copy(part, in.Body); err != nil {
			return fmt.Errorf("copy file: %w", err)
		}
	}
	return mw.Close()
}

// UploadProgress returns the progress record for an upload id. found is
// false while the server has not registered the job yet.
func (c *Client) UploadProgress(ctx context.Context, uploadID string) (rec *Progress, found bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/upload/progress/"+url.PathEscape(uploadID), nil)
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Found    bool      `json:"found"`
		Progress *Progress `json:"progress"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, false, fmt.Errorf("upload progress %s: %w", uploadID, err)
	}
	if !out.Found || out.Progress == nil {
		return nil, false, nil
	}
	return out.Progress, true, nil
}

func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/files", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Files []File `json:"files"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return out.Files, nil
}
