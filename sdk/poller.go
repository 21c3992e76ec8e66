package sdk

import (
	"context"
	"fmt"
	"time"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// defaultPollInterval matches the cadence anchors expect from wallet clients.
const defaultPollInterval = 2 * time.Second

// StatusFetch retrieves the current status of a transfer from the anchor.
type StatusFetch func(ctx context.Context) (anchorclient.TxStatus, error)

// PollParams configures one polling run.
type PollParams struct {
	// Fetch is called once per tick. One fetch error aborts the run with
	// that error; the poller never retries a failed fetch.
	Fetch StatusFetch

	// Terminal lists the statuses that end the run successfully.
	Terminal []anchorclient.TxStatus

	// OnChange, when set, is invoked each time the observed status differs
	// from the previous tick.
	OnChange func(anchorclient.TxStatus)

	// Cancel, when set, is checked before each tick. Returning true stops
	// the run with an incomplete error (interactive flows wire this to the
	// user closing the anchor's window).
	Cancel func() bool
}

// Poller repeatedly fetches a transfer's status until it reaches a terminal
// value. Ticks are evenly spaced; there is no backoff, matching the polling
// contract the SEP transfer protocols assume.
type Poller struct {
	// Interval between fetches. Zero means the 2 second default.
	Interval time.Duration

	// MaxAttempts bounds the number of fetches. Zero means unbounded;
	// exhaustion ends the run with an incomplete error.
	MaxAttempts int

	client *Client
}

// NewPoller creates a Poller with the default interval.
func NewPoller(client *Client) *Poller {
	return &Poller{Interval: defaultPollInterval, client: client}
}

// PollUntilTerminal runs the poll loop. It returns the last observed status
// together with nil on terminal, the fetch error on a failed fetch, or an
// incomplete error when the run was canceled, the context ended, or attempts
// ran out before a terminal status.
func (p *Poller) PollUntilTerminal(ctx context.Context, params PollParams) (anchorclient.TxStatus, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	terminal := make(map[anchorclient.TxStatus]bool, len(params.Terminal))
	for _, status := range params.Terminal {
		terminal[status] = true
	}

	var last anchorclient.TxStatus
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return last, incomplete(last, "polling stopped by context", err)
		}
		if params.Cancel != nil && params.Cancel() {
			return last, incomplete(last, "polling canceled before a terminal status", nil)
		}

		status, err := params.Fetch(ctx)
		if err != nil {
			return last, err
		}
		if status != last {
			p.client.logResponse("transfer status", string(status))
			if params.OnChange != nil {
				params.OnChange(status)
			}
			last = status
		}
		if terminal[status] {
			return status, nil
		}

		attempts++
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return last, incomplete(last, fmt.Sprintf("no terminal status after %d attempts", attempts), nil)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, incomplete(last, "polling stopped by context", ctx.Err())
		case <-timer.C:
		}
	}
}

func incomplete(last anchorclient.TxStatus, msg string, cause error) error {
	if last != "" {
		msg = fmt.Sprintf("%s (last status %q)", msg, last)
	}
	return errors.NewTransferError(errors.POLL_INCOMPLETE, msg, cause)
}
