package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Lllllllleong/invoiceflow/internal/crm"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/notify"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// fakeSource behaves like the CRM: marking a candidate adds the marker to
// its tags so later listings see it.
type fakeSource struct {
	mu         sync.Mutex
	candidates []models.CandidateRecord
	related    map[string]*models.RelatedEntities

	listErr  error
	fetchErr map[string]error
	markErr  map[string]error

	fetched []string
	marked  []string
}

func newFakeSource(ids ...string) *fakeSource {
	s := &fakeSource{
		related:  map[string]*models.RelatedEntities{},
		fetchErr: map[string]error{},
		markErr:  map[string]error{},
	}
	for _, id := range ids {
		s.candidates = append(s.candidates, models.CandidateRecord{ID: id, Name: "Deal " + id})
		s.related[id] = &models.RelatedEntities{
			Contact:  &models.Contact{ID: "c" + id, Name: "Customer " + id, Email: fmt.Sprintf("buyer%s@example.com", id)},
			Products: []models.Product{{ID: "p1", Name: "Chair", Price: "105", Quantity: 2}},
		}
	}
	return s
}

func (s *fakeSource) ListCandidates(ctx context.Context, criteria models.SelectionCriteria) ([]models.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.CandidateRecord, len(s.candidates))
	for i, c := range s.candidates {
		c.Tags = append([]string(nil), c.Tags...)
		out[i] = c
	}
	return out, nil
}

func (s *fakeSource) FetchRelated(ctx context.Context, candidate models.CandidateRecord) (*models.RelatedEntities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, candidate.ID)
	if err := s.fetchErr[candidate.ID]; err != nil {
		return nil, err
	}
	rel, ok := s.related[candidate.ID]
	if !ok {
		return nil, crm.ErrNotFound
	}
	return rel, nil
}

func (s *fakeSource) MarkProcessed(ctx context.Context, candidateID, marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErr[candidateID]; err != nil {
		return err
	}
	s.marked = append(s.marked, candidateID)
	for i := range s.candidates {
		if s.candidates[i].ID == candidateID {
			s.candidates[i].Tags = append(s.candidates[i].Tags, marker)
		}
	}
	return nil
}

func (s *fakeSource) markedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marked...)
}

type fakeRenderer struct {
	mu    sync.Mutex
	fail  map[string]error
	panic map[string]bool
	calls int
}

func (r *fakeRenderer) Render(ctx context.Context, payload models.InvoicePayload) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	err := r.fail[payload.Invoice.DealNumber]
	shouldPanic := r.panic[payload.Invoice.DealNumber]
	r.mu.Unlock()

	if shouldPanic {
		panic("renderer blew up")
	}
	if err != nil {
		return nil, err
	}
	return []byte("%PDF-" + payload.Invoice.Number), nil
}

type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]error
	block map[string]bool
	panic map[string]bool
	sent  []notify.Message
}

func (s *fakeSender) Send(ctx context.Context, msg notify.Message) (notify.Receipt, error) {
	s.mu.Lock()
	to := msg.To[0]
	err := s.fail[to]
	block := s.block[to]
	shouldPanic := s.panic[to]
	s.mu.Unlock()

	if shouldPanic {
		panic("mailer blew up")
	}
	if block {
		<-ctx.Done()
		return notify.Receipt{}, ctx.Err()
	}
	if err != nil {
		return notify.Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return notify.Receipt{ID: fmt.Sprintf("msg-%d", len(s.sent))}, nil
}

func (s *fakeSender) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		out = append(out, m.To...)
	}
	return out
}

type fakeArchiver struct {
	mu       sync.Mutex
	err      error
	prefixes []string
}

func (a *fakeArchiver) Archive(ctx context.Context, prefix string, content []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prefixes = append(a.prefixes, prefix)
	if a.err != nil {
		return "", a.err
	}
	return "gs://archive/" + prefix + ".pdf", nil
}

// failingBackend rejects every upsert.
type failingBackend struct {
	*store.MemoryBackend
}

func (b failingBackend) Records(collection string) store.RecordStore {
	return failingRecords{}
}

type failingRecords struct{}

func (failingRecords) Upsert(ctx context.Context, key string, payload models.InvoicePayload) (bool, string, error) {
	return false, "", errors.New("connection reset")
}

func (failingRecords) FindByKey(ctx context.Context, key string) (*models.DocumentRecord, error) {
	return nil, store.ErrNotFound
}
