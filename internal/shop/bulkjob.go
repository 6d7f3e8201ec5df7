package shop

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Bulk job status values as the destination reports them.
const (
	JobCreated   = "CREATED"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
	JobCanceled  = "CANCELED"
)

// BulkJob is the handle the asynchronous bulk facility returns.
type BulkJob struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
}

// Terminal reports whether the job has reached a final status.
func (j BulkJob) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	}
	return false
}

type jobEnvelope struct {
	Job BulkJob `json:"job"`
}

// SubmitQueryJob submits a catalog read query as an asynchronous job and
// returns its handle.
func (c *Client) SubmitQueryJob(query string) (BulkJob, error) {
	var out jobEnvelope
	body := map[string]string{"query": query}
	if _, err := c.doJSON("POST", "/bulk/queries.json", body, &out); err != nil {
		return BulkJob{}, fmt.Errorf("submit bulk query: %w", err)
	}
	return out.Job, nil
}

// SubmitMutationJob triggers a bulk mutation referencing a previously
// staged upload.
func (c *Client) SubmitMutationJob(mutation, stagedPath string) (BulkJob, error) {
	var out jobEnvelope
	body := map[string]string{"mutation": mutation, "staged_upload_path": stagedPath}
	if _, err := c.doJSON("POST", "/bulk/mutations.json", body, &out); err != nil {
		return BulkJob{}, fmt.Errorf("submit bulk mutation: %w", err)
	}
	return out.Job, nil
}

// PollJob fetches the current status of a bulk job.
func (c *Client) PollJob(id string) (BulkJob, error) {
	var out jobEnvelope
	if _, err := c.doJSON("GET", "/bulk/jobs/"+id+".json", nil, &out); err != nil {
		return BulkJob{}, fmt.Errorf("poll bulk job %s: %w", id, err)
	}
	return out.Job, nil
}

// DownloadResult streams the newline-delimited result file of a completed
// job. The caller owns the ReadCloser.
func (c *Client) DownloadResult(resultURL string) (io.ReadCloser, error) {
	req, err := http.NewRequest("GET", resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build result download: %w", err)
	}
	req.Header.Set("X-Access-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download bulk result: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: "bulk result download failed"}
	}
	return resp.Body, nil
}

// StagedTarget is the upload destination returned by CreateStagedUpload:
// a multipart endpoint plus the form parameters that must accompany the
// file, and the opaque path to reference from a mutation job.
type StagedTarget struct {
	URL        string            `json:"url"`
	Parameters map[string]string `json:"parameters"`
	Path       string            `json:"path"`
}

// CreateStagedUpload requests a staged upload target for a mutation
// payload file.
func (c *Client) CreateStagedUpload(filename string) (StagedTarget, error) {
	var out struct {
		Target StagedTarget `json:"staged_target"`
	}
	body := map[string]string{"filename": filename, "mime_type": "text/jsonl"}
	if _, err := c.doJSON("POST", "/bulk/staged_uploads.json", body, &out); err != nil {
		return StagedTarget{}, fmt.Errorf("create staged upload: %w", err)
	}
	return out.Target, nil
}

// UploadStaged posts the payload file to a staged target as multipart
// form data, parameters first, file field last.
func (c *Client) UploadStaged(target StagedTarget, filename string, r io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		var err error
		defer func() { pw.CloseWithError(err) }()
		for name, value := range target.Parameters {
			if err = mw.WriteField(name, value); err != nil {
				return
			}
		}
		var part io.Writer
		if part, err = mw.CreateFormFile("file", filename); err != nil {
			return
		}
		if _, err = io.Copy(part, r); err != nil {
			return
		}
		err = mw.Close()
	}()

	req, err := http.NewRequest("POST", target.URL, pr)
	if err != nil {
		return fmt.Errorf("build staged upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("staged upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: "staged upload rejected"}
	}
	return nil
}
