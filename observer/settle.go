package observer

import (
	"context"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// AwaitPayment blocks until the watcher sees a payment passing all filters,
// then stops the stream and returns the event. The context bounds the wait;
// cancellation returns a STREAM_ERROR with the context's cause.
func AwaitPayment(ctx context.Context, watcher PaymentWatcher, filters ...PaymentFilter) (*PaymentEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	matched := make(chan PaymentEvent, 1)
	watcher.OnPayment(func(evt PaymentEvent) error {
		select {
		case matched <- evt:
		default:
		}
		cancel()
		return nil
	}, filters...)

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Watch(ctx)
	}()

	select {
	case evt := <-matched:
		watcher.Stop()
		<-watchErr
		return &evt, nil
	case err := <-watchErr:
		select {
		case evt := <-matched:
			return &evt, nil
		default:
		}
		return nil, errors.NewObserverError(errors.STREAM_ERROR, "payment stream ended before a matching payment arrived", err)
	}
}

// AwaitDeposit waits for the on-chain leg of a deposit: a payment of the
// requested asset arriving at the wallet account. A non-empty memo narrows
// the match to one transfer when the account receives unrelated payments.
func AwaitDeposit(ctx context.Context, watcher PaymentWatcher, account string, asset anchorclient.Asset, memo string) (*PaymentEvent, error) {
	filters := []PaymentFilter{ToAccount(account), ForAsset(asset)}
	if memo != "" {
		filters = append(filters, WithMemo(memo))
	}
	return AwaitPayment(ctx, watcher, filters...)
}
