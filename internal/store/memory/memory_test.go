package memory

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
)

func TestInTxRollbackKeepsConcurrentCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	feed := domain.Feed{
		ID:       domain.NewFeedID("BTC/USD", "crypto"),
		Name:     "BTC/USD",
		Category: "crypto",
		Active:   true,
	}

	errAbort := errors.New("abort")
	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := s.InTx(ctx, func(tx domain.Stores) error {
			if err := tx.Balances().Credit(ctx, user, big.NewInt(7)); err != nil {
				return err
			}
			close(entered)
			<-release
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Errorf("InTx err = %v, want the fn error", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-entered
		close(release)
		if err := s.InTx(ctx, func(tx domain.Stores) error {
			return tx.Feeds().Create(ctx, feed)
		}); err != nil {
			t.Errorf("concurrent InTx: %v", err)
		}
	}()
	wg.Wait()

	// The second transaction's commit survives the first one's rollback.
	if _, err := s.Feeds().Get(ctx, feed.ID); err != nil {
		t.Fatalf("committed feed lost after unrelated rollback: %v", err)
	}
	bal, err := s.Balances().Balance(ctx, user)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Errorf("rolled-back credit still visible: %s", bal)
	}
}

func TestMarkSettledOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Markets().Create(ctx, domain.Market{
		Question: "q",
		TotalYes: new(big.Int),
		TotalNo:  new(big.Int),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Markets().MarkSettled(ctx, id, true, at); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	if err := s.Markets().MarkSettled(ctx, id, false, at.Add(time.Minute)); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("second settle: err = %v, want ErrAlreadySettled", err)
	}

	m, err := s.Markets().GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !m.Outcome {
		t.Error("outcome overwritten by the rejected settle")
	}
	if !m.SettledAt.Equal(at) {
		t.Errorf("SettledAt = %v, want %v", m.SettledAt, at)
	}
}
