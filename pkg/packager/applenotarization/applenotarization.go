// Package applenotarization wraps xcrun notarytool, which submits
// installers to Apple's notarization service and reports on their
// status.
package applenotarization

import (
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"go.opencensus.io/trace"
)

const (
	StatusAccepted   = "Accepted"
	StatusInProgress = "In Progress"
)

// ErrNotAccepted is returned by Wait when Apple finished with a
// submission without accepting it.
var ErrNotAccepted = errors.New("notarization not accepted")

type Notarizer struct {
	appleID  string
	password string // app specific password
	teamID   string

	execCC func(context.Context, string, ...string) *exec.Cmd

	// fakeResponses stand in for notarytool output, in order. The last
	// one repeats.
	fakeResponses []string
}

func New(appleID, password, teamID string) *Notarizer {
	return &Notarizer{
		appleID:  appleID,
		password: password,
		teamID:   teamID,
		execCC:   exec.CommandContext,
	}
}

// Submit uploads filePath for notarization without waiting for the
// result. It returns the submission id.
func (n *Notarizer) Submit(ctx context.Context, filePath string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "applenotarization.Submit")
	defer span.End()

	rawResp, err := n.runNotarytool(ctx, "submit", filePath, []string{"--no-wait", "--timeout", "3m"})
	if err != nil {
		return "", errors.Wrap(err, "could not run notarytool submit")
	}

	var r submitResponse
	if err := json.Unmarshal(rawResp, &r); err != nil {
		return "", errors.Wrap(err, "could not unmarshal notarization response")
	}

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "submitted for notarization",
		"file", filePath,
		"submission_id", r.ID,
	)

	return r.ID, nil
}

// Check returns the status notarytool reports for a submission.
func (n *Notarizer) Check(ctx context.Context, id string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "applenotarization.Check")
	defer span.End()

	rawResp, err := n.runNotarytool(ctx, "info", id, nil)
	if err != nil {
		return "", errors.Wrap(err, "fetching notarization info")
	}

	var r infoResponse
	if err := json.Unmarshal(rawResp, &r); err != nil {
		return "", errors.Wrap(err, "could not unmarshal notarization info response")
	}

	if r.ID != id {
		return "", errors.Errorf("expected info for submission %s, got %s", id, r.ID)
	}

	return r.Status, nil
}

// Wait checks on a submission every interval until it leaves the
// in-progress state. Anything but Accepted is ErrNotAccepted.
func (n *Notarizer) Wait(ctx context.Context, id string, interval time.Duration) error {
	ctx, span := trace.StartSpan(ctx, "applenotarization.Wait")
	defer span.End()

	logger := log.With(ctxlog.FromContext(ctx),
		"caller", "applenotarization.Wait",
		"submission_id", id,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := n.Check(ctx, id)
		if err != nil {
			return err
		}

		switch status {
		case StatusAccepted:
			level.Info(logger).Log("msg", "notarization accepted")
			return nil
		case StatusInProgress:
			level.Debug(logger).Log("msg", "notarization still in progress")
		default:
			return errors.Wrapf(ErrNotAccepted, "submission %s has status %q", id, status)
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for submission %s", id)
		case <-ticker.C:
		}
	}
}

func (n *Notarizer) runNotarytool(ctx context.Context, command string, target string, additionalArgs []string) ([]byte, error) {
	args := []string{
		"notarytool",
		command,
		target,
		"--apple-id", n.appleID,
		"--password", n.password,
		"--team-id", n.teamID,
		"--output-format", "json",
	}
	args = append(args, additionalArgs...)

	if len(n.fakeResponses) > 0 {
		resp := n.fakeResponses[0]
		if len(n.fakeResponses) > 1 {
			n.fakeResponses = n.fakeResponses[1:]
		}
		return []byte(resp), nil
	}

	cmd := n.execCC(ctx, "xcrun", args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "notarytool %s, output `%s`", command, string(out))
	}

	return out, nil
}
