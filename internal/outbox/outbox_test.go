package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/alerting"
	"coinwatch/internal/market"
	"coinwatch/internal/storage"
)

type fakeOutboxStore struct {
	records map[string]storage.OutboxRecord
}

func newFakeStore() *fakeOutboxStore {
	return &fakeOutboxStore{records: make(map[string]storage.OutboxRecord)}
}

func (f *fakeOutboxStore) GetOutboxRecord(ctx context.Context, fingerprint string) (*storage.OutboxRecord, error) {
	rec, ok := f.records[fingerprint]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeOutboxStore) UpsertOutboxRecord(ctx context.Context, rec storage.OutboxRecord) error {
	if prior, ok := f.records[rec.Fingerprint]; ok {
		rec.SentOK = rec.SentOK || prior.SentOK
		rec.Attempts = prior.Attempts + 1
	}
	f.records[rec.Fingerprint] = rec
	return nil
}

func (f *fakeOutboxStore) ListRecentOutbox(ctx context.Context, limit int) ([]storage.OutboxRecord, error) {
	return nil, nil
}

type countingNotifier struct {
	sends int
	err   error
}

func (c *countingNotifier) Send(ctx context.Context, note alerting.Notification) error {
	c.sends++
	return c.err
}

func candidate(fp string) market.CandidateAlert {
	return market.CandidateAlert{
		EntityID:    "tok",
		Kind:        market.KindRetrace,
		Fingerprint: fp,
		Price:       decimal.NewFromFloat(0.84),
		Volume:      decimal.NewFromInt(1000),
		Magnitude:   decimal.NewFromInt(16),
		Threshold:   decimal.NewFromInt(15),
		At:          time.Now().UTC(),
	}
}

func TestSendDeliversOnceUnderRetry(t *testing.T) {
	store := newFakeStore()
	transport := &countingNotifier{}
	box := New(store, transport, nil, "telegram", zerolog.Nop())

	delivered, err := box.Send(context.Background(), candidate("fp-1"))
	if err != nil || !delivered {
		t.Fatalf("first send: delivered=%v err=%v", delivered, err)
	}

	for i := 0; i < 5; i++ {
		delivered, err = box.Send(context.Background(), candidate("fp-1"))
		if err != nil {
			t.Fatalf("retry %d errored: %v", i, err)
		}
		if delivered {
			t.Fatalf("retry %d performed a second delivery", i)
		}
	}

	if transport.sends != 1 {
		t.Fatalf("transport invoked %d times, want exactly 1", transport.sends)
	}
}

func TestSendRetriesAfterTransportFailure(t *testing.T) {
	store := newFakeStore()
	transport := &countingNotifier{err: errors.New("transport down")}
	box := New(store, transport, nil, "telegram", zerolog.Nop())

	if _, err := box.Send(context.Background(), candidate("fp-1")); err == nil {
		t.Fatal("failed delivery should surface an error")
	}
	rec := store.records["fp-1"]
	if rec.SentOK || rec.LastError == nil {
		t.Fatalf("failure outcome not recorded: %+v", rec)
	}

	// Transport recovers; the same fingerprint is still deliverable.
	transport.err = nil
	delivered, err := box.Send(context.Background(), candidate("fp-1"))
	if err != nil || !delivered {
		t.Fatalf("recovery send: delivered=%v err=%v", delivered, err)
	}
	if !store.records["fp-1"].SentOK {
		t.Fatal("success outcome not recorded")
	}
	if transport.sends != 2 {
		t.Fatalf("transport invoked %d times, want 2", transport.sends)
	}
}

func TestSendPublishesEventAfterDelivery(t *testing.T) {
	stream := alerting.NewStream(zerolog.Nop())
	ch := stream.Subscribe(4)

	box := New(newFakeStore(), &countingNotifier{}, stream, "telegram", zerolog.Nop())
	if _, err := box.Send(context.Background(), candidate("fp-1")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case event := <-ch:
		if event.EntityID != "tok" || event.Kind != market.KindRetrace {
			t.Fatalf("unexpected event %+v", event)
		}
	default:
		t.Fatal("delivered alert should publish a stream event")
	}
}

func TestSendWithoutStoreStillDelivers(t *testing.T) {
	transport := &countingNotifier{}
	box := New(nil, transport, nil, "console", zerolog.Nop())

	delivered, err := box.Send(context.Background(), candidate("fp-1"))
	if err != nil || !delivered {
		t.Fatalf("storeless send: delivered=%v err=%v", delivered, err)
	}
}
