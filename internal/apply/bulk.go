package apply

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mkeller/catsync/internal/shop"
)

// JobState is the local view of a remote bulk job's lifecycle.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// JobError reports a bulk job that ended in FAILED or CANCELED. It aborts
// only that job; the run proceeds with whatever did not depend on it.
type JobError struct {
	JobID string
	State JobState
	Code  string
}

func (e *JobError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bulk job %s %s: %s", e.JobID, e.State, e.Code)
	}
	return fmt.Sprintf("bulk job %s %s", e.JobID, e.State)
}

// BulkAPI is the asynchronous bulk facility of the destination API.
type BulkAPI interface {
	SubmitQueryJob(query string) (shop.BulkJob, error)
	SubmitMutationJob(mutation, stagedPath string) (shop.BulkJob, error)
	PollJob(id string) (shop.BulkJob, error)
	DownloadResult(resultURL string) (io.ReadCloser, error)
	CreateStagedUpload(filename string) (shop.StagedTarget, error)
	UploadStaged(target shop.StagedTarget, filename string, r io.Reader) error
}

// Bulk drives the submit → poll → stage → poll protocol for large
// changesets. Polling is a sequential loop with a pluggable sleeper and a
// hard poll budget; there is no busy-waiting and no concurrency.
type Bulk struct {
	API          BulkAPI
	PollInterval time.Duration
	MaxPolls     int
	Sleep        func(time.Duration)
}

// RunQuery submits a catalog read as an asynchronous job, waits for it,
// and returns the newline-delimited result stream. The caller owns the
// ReadCloser.
func (b *Bulk) RunQuery(query string) (io.ReadCloser, error) {
	job, err := b.API.SubmitQueryJob(query)
	if err != nil {
		return nil, err
	}
	job, err = b.await(job)
	if err != nil {
		return nil, err
	}
	return b.API.DownloadResult(job.ResultURL)
}

// RunMutations encodes the per-item payloads as a JSONL file, stages it,
// submits the mutation job referencing the staged path, and waits for
// completion.
func (b *Bulk) RunMutations(mutation, filename string, payloads []interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range payloads {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encode mutation payload: %w", err)
		}
	}

	target, err := b.API.CreateStagedUpload(filename)
	if err != nil {
		return err
	}
	if err := b.API.UploadStaged(target, filename, &buf); err != nil {
		return err
	}

	job, err := b.API.SubmitMutationJob(mutation, target.Path)
	if err != nil {
		return err
	}
	_, err = b.await(job)
	return err
}

// await polls the job to a terminal state within the poll budget.
func (b *Bulk) await(job shop.BulkJob) (shop.BulkJob, error) {
	interval := b.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxPolls := b.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 120
	}

	state := JobStatePending
	for i := 0; i < maxPolls; i++ {
		polled, err := b.API.PollJob(job.ID)
		if err != nil {
			return job, err
		}
		job = polled

		switch job.Status {
		case shop.JobCreated:
			state = JobStatePending
		case shop.JobRunning:
			state = JobStateRunning
		case shop.JobCompleted:
			return job, nil
		case shop.JobFailed:
			return job, &JobError{JobID: job.ID, State: JobStateFailed, Code: job.ErrorCode}
		case shop.JobCanceled:
			return job, &JobError{JobID: job.ID, State: JobStateCanceled, Code: job.ErrorCode}
		default:
			return job, fmt.Errorf("bulk job %s: unknown status %q", job.ID, job.Status)
		}
		b.sleep(interval)
	}

	return job, fmt.Errorf("bulk job %s: poll budget exhausted while %s", job.ID, state)
}

func (b *Bulk) sleep(d time.Duration) {
	if b.Sleep != nil {
		b.Sleep(d)
		return
	}
	time.Sleep(d)
}

// DecodeJSONL streams a newline-delimited JSON result, invoking fn for
// every line. Lines are processed as they arrive; the whole file is never
// held in memory.
func DecodeJSONL(r io.Reader, fn func(json.RawMessage) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		if err := fn(raw); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read bulk result: %w", err)
	}
	return nil
}
