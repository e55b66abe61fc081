package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// DefaultRetries is how many times a command that fails to start is retried.
const DefaultRetries = 3

// WireImage is the JSON form of a raster image exchanged with plugins.
type WireImage struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Channels int       `json:"channels"`
	Pix      []float32 `json:"pix"`
}

// Request is written to the plugin's stdin, one per call.
type Request struct {
	Operation string             `json:"operation"`
	Params    map[string]float64 `json:"params"`
	Outputs   int                `json:"outputs"`
	Images    []WireImage        `json:"images"`
}

// Response is read from the plugin's stdout. A non-empty Error fails the call.
type Response struct {
	Images []WireImage `json:"images,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Runner executes a plugin command once per operation call.
type Runner struct {
	Command         []string
	Env             []string
	Retries         uint64
	InitialInterval time.Duration
}

// NewRunner returns a Runner with the default retry policy.
func NewRunner(command, env []string) *Runner {
	return &Runner{
		Command:         command,
		Env:             env,
		Retries:         DefaultRetries,
		InitialInterval: 100 * time.Millisecond,
	}
}

// Invoke sends one request and decodes the images of the response. Failures
// to start the process are retried with exponential backoff; everything the
// plugin itself reports is final.
func (r *Runner) Invoke(ctx context.Context, op string, in []*raster.Image, params pipeline.Params, outputs int) ([]*raster.Image, error) {
	req := Request{Operation: op, Params: params, Outputs: outputs, Images: make([]WireImage, len(in))}
	if req.Params == nil {
		req.Params = map[string]float64{}
	}
	for i, m := range in {
		// JSON has no NaN or Inf.
		if j := firstNonFinite(m.Pix); j >= 0 {
			return nil, fmt.Errorf("%w: %s input %d, sample %d is %v", ErrNonFinite, op, i, j, m.Pix[j])
		}
		req.Images[i] = WireImage{Width: m.Width, Height: m.Height, Channels: m.Channels, Pix: m.Pix}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode plugin request: %w", err)
	}

	var resp Response
	attempt := func() error {
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.Env = append(os.Environ(), r.Env...)

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", r.Command[0], err)
		}
		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			msg := strings.TrimSpace(stderr.String())
			return backoff.Permanent(fmt.Errorf("%w: %s: %v: %s", ErrPluginFailed, op, err, msg))
		}
		resp = Response{}
		if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrBadResponse, err))
		}
		if resp.Error != "" {
			return backoff.Permanent(fmt.Errorf("%w: %s: %s", ErrPluginFailed, op, resp.Error))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		eb.InitialInterval = r.InitialInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.Retries), ctx)
	notify := func(err error, wait time.Duration) {
		slog.Warn("plugin start failed, retrying", "op", op, "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(attempt, b, notify); err != nil {
		return nil, err
	}
	return decodeImages(resp.Images, outputs)
}

func firstNonFinite(pix []float32) int {
	for i, v := range pix {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}

func decodeImages(imgs []WireImage, outputs int) ([]*raster.Image, error) {
	if len(imgs) != outputs {
		return nil, fmt.Errorf("%w: got %d images, want %d", ErrBadResponse, len(imgs), outputs)
	}
	out := make([]*raster.Image, len(imgs))
	for i, w := range imgs {
		if w.Width < 0 || w.Height < 0 || w.Channels <= 0 || len(w.Pix) != w.Width*w.Height*w.Channels {
			return nil, fmt.Errorf("%w: image %d is %dx%dx%d with %d samples",
				ErrBadResponse, i, w.Width, w.Height, w.Channels, len(w.Pix))
		}
		out[i] = &raster.Image{Width: w.Width, Height: w.Height, Channels: w.Channels, Pix: w.Pix}
	}
	return out, nil
}
