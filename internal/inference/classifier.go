package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Classifier labels the staged media at path. Implementations should return
// promptly once ctx is done.
type Classifier interface {
	Classify(ctx context.Context, path string) (Verdict, error)
}

type ClassifierFunc func(ctx context.Context, path string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, path string) (Verdict, error) {
	return f(ctx, path)
}

// ExecClassifier runs an external program with the staged path appended to
// its arguments and reads a single 0 or 1 from stdout. The process is killed
// when ctx is done.
type ExecClassifier struct {
	Command []string
	// WaitDelay bounds how long a killed process may hold its pipes open.
	WaitDelay time.Duration
}

func NewExecClassifier(commandLine string) (*ExecClassifier, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("classifier command is required")
	}
	return &ExecClassifier{Command: fields, WaitDelay: 2 * time.Second}, nil
}

func (c *ExecClassifier) Classify(ctx context.Context, path string) (Verdict, error) {
	args := append(append([]string(nil), c.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.WaitDelay = c.WaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("classifier interrupted: %w", ctxErr)
		}
		return 0, fmt.Errorf("run classifier: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = strings.TrimSpace(out[i+1:])
	}
	label, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse classifier output %q: %w", out, err)
	}
	return VerdictFromLabel(label)
}

// HTTPClassifier posts the staged file to a model server and expects
// {"label": 0|1} back.
type HTTPClassifier struct {
	URL    string
	Client *http.Client
}

type httpClassifierResponse struct {
	Label *int `json:"label"`
}

func NewHTTPClassifier(url string) (*HTTPClassifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("classifier url is required")
	}
	return &HTTPClassifier{URL: url, Client: http.DefaultClient}, nil
}

func (c *HTTPClassifier) Classify(ctx context.Context, path string) (Verdict, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, f)
	if err != nil {
		return 0, fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out httpClassifierResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding classifier response: %w", err)
	}
	if out.Label == nil {
		return 0, errors.New("classifier response has no label")
	}
	return VerdictFromLabel(*out.Label)
}
