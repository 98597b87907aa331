package extract

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
)

// memStore mirrors the unique-constraint upsert semantics of the SQL store so
// applier behavior can be tested without a database.
type memStore struct {
	mu          sync.Mutex
	docTypes    map[uuid.UUID]string
	fields      map[uuid.UUID]map[string]any
	obligations map[uuid.UUID]*entity.Obligation
	byKey       map[string]uuid.UUID
	evidence    map[string]*entity.EvidenceLink
}

func newMemStore() *memStore {
	return &memStore{
		docTypes:    map[uuid.UUID]string{},
		fields:      map[uuid.UUID]map[string]any{},
		obligations: map[uuid.UUID]*entity.Obligation{},
		byKey:       map[string]uuid.UUID{},
		evidence:    map[string]*entity.EvidenceLink{},
	}
}

func (m *memStore) WithDocumentTx(_ context.Context, _ uuid.UUID, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memStore) ReplaceFields(_ context.Context, docID uuid.UUID, docType string, fields map[string]any) error {
	m.docTypes[docID] = docType
	m.fields[docID] = fields
	return nil
}

func (m *memStore) UpsertObligation(_ context.Context, ob *entity.Obligation) (uuid.UUID, error) {
	key := ob.DocumentID.String() + "|" + ob.NaturalKey
	if id, ok := m.byKey[key]; ok {
		existing := m.obligations[id]
		existing.Status = ob.Status
		if existing.TriggerEvent == nil {
			existing.TriggerEvent = ob.TriggerEvent
		}
		if existing.DueDate == nil {
			existing.DueDate = ob.DueDate
		}
		if existing.PartyName == nil {
			existing.PartyName = ob.PartyName
		}
		if existing.Description == nil {
			existing.Description = ob.Description
		}
		existing.UpdatedAt = ob.UpdatedAt
		return id, nil
	}
	// Like the SQL store, the row keeps the id the caller minted.
	id := ob.ID
	cp := *ob
	m.obligations[id] = &cp
	m.byKey[key] = id
	return id, nil
}

func (m *memStore) InsertEvidence(_ context.Context, link *entity.EvidenceLink) (bool, error) {
	key := fmt.Sprintf("%s|%s|%d|%d", link.ObligationID, link.EvidenceDocumentID, link.PageFrom, link.PageTo)
	if _, ok := m.evidence[key]; ok {
		return false, nil
	}
	cp := *link
	m.evidence[key] = &cp
	return true, nil
}

func (m *memStore) SupersedeExcept(_ context.Context, docID uuid.UUID, touched []uuid.UUID, now time.Time) (int64, error) {
	keep := map[uuid.UUID]struct{}{}
	for _, id := range touched {
		keep[id] = struct{}{}
	}
	var n int64
	for id, ob := range m.obligations {
		if ob.DocumentID != docID {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		if ob.Status == constants.ObligationOpen || ob.Status == constants.ObligationInProgress {
			ob.Status = constants.ObligationSuperseded
			ob.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *memStore) countForDoc(docID uuid.UUID) (obligations, evidence int) {
	for _, ob := range m.obligations {
		if ob.DocumentID == docID {
			obligations++
		}
	}
	return obligations, len(m.evidence)
}

func (m *memStore) byStatus(docID uuid.UUID) map[constants.ObligationStatus]int {
	out := map[constants.ObligationStatus]int{}
	for _, ob := range m.obligations {
		if ob.DocumentID == docID {
			out[ob.Status]++
		}
	}
	return out
}

func feePaymentPayload() *Payload {
	return &Payload{
		DocType:         "purchase-sale-agreement-psa",
		ExtractedFields: map[string]any{"purchase_price": "2500000"},
		Obligations: []ObligationInput{{
			ObligationType: "fee_payment",
			DueDate:        strptr("2025-10-01"),
			Status:         "open",
			Evidence: []EvidenceInput{{
				PageFrom: 8,
				Note:     strptr("COA #12"),
			}},
		}},
	}
}

func TestApplyIdempotent(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	p := feePaymentPayload()
	require.NoError(t, applier.Apply(ctx, docID, p, Options{Supersede: true}))
	obs1, evs1 := store.countForDoc(docID)

	require.NoError(t, applier.Apply(ctx, docID, p, Options{Supersede: true}))
	obs2, evs2 := store.countForDoc(docID)

	assert.Equal(t, 1, obs1)
	assert.Equal(t, 1, evs1)
	assert.Equal(t, obs1, obs2)
	assert.Equal(t, evs1, evs2)
	assert.Equal(t, map[string]any{"purchase_price": "2500000"}, store.fields[docID])
}

func TestApplyNaturalKeyStability(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	a := &Payload{Obligations: []ObligationInput{{
		ObligationType:   "notice",
		TriggerEvent:     strptr("Upon   Closing"),
		ResponsibleParty: strptr("ACME LLC"),
	}}}
	b := &Payload{Obligations: []ObligationInput{{
		ObligationType:   "notice",
		TriggerEvent:     strptr("upon closing"),
		ResponsibleParty: strptr("acme   llc"),
	}}}

	require.NoError(t, applier.Apply(ctx, docID, a, Options{}))
	require.NoError(t, applier.Apply(ctx, docID, b, Options{}))

	obs, _ := store.countForDoc(docID)
	assert.Equal(t, 1, obs)
}

func TestApplyEvidenceDedupIgnoresNote(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	p1 := feePaymentPayload()
	p2 := feePaymentPayload()
	p2.Obligations[0].Evidence[0].Note = strptr("a different note")

	require.NoError(t, applier.Apply(ctx, docID, p1, Options{}))
	require.NoError(t, applier.Apply(ctx, docID, p2, Options{}))

	_, evs := store.countForDoc(docID)
	assert.Equal(t, 1, evs)
}

func TestApplyEvidenceDefaults(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	require.NoError(t, applier.Apply(ctx, docID, feePaymentPayload(), Options{}))
	require.Len(t, store.evidence, 1)
	for _, ev := range store.evidence {
		assert.Equal(t, docID, ev.EvidenceDocumentID)
		assert.Equal(t, 8, ev.PageFrom)
		assert.Equal(t, 8, ev.PageTo)
	}
}

func TestApplySupersession(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	full := &Payload{Obligations: []ObligationInput{
		{ObligationType: "fee_payment", Status: "open"},
		{ObligationType: "deliver_notice", Status: "in_progress"},
	}}
	require.NoError(t, applier.Apply(ctx, docID, full, Options{Supersede: true}))

	onlyA := &Payload{Obligations: []ObligationInput{
		{ObligationType: "fee_payment", Status: "open"},
	}}
	require.NoError(t, applier.Apply(ctx, docID, onlyA, Options{Supersede: true}))

	statuses := store.byStatus(docID)
	assert.Equal(t, 1, statuses[constants.ObligationOpen])
	assert.Equal(t, 1, statuses[constants.ObligationSuperseded])
	assert.Zero(t, statuses[constants.ObligationInProgress])
}

func TestApplyWithoutSupersedeLeavesOthersAlone(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	full := &Payload{Obligations: []ObligationInput{
		{ObligationType: "fee_payment", Status: "open"},
		{ObligationType: "deliver_notice", Status: "in_progress"},
	}}
	require.NoError(t, applier.Apply(ctx, docID, full, Options{Supersede: true}))

	onlyA := &Payload{Obligations: []ObligationInput{
		{ObligationType: "fee_payment", Status: "open"},
	}}
	require.NoError(t, applier.Apply(ctx, docID, onlyA, Options{Supersede: false}))

	statuses := store.byStatus(docID)
	assert.Equal(t, 1, statuses[constants.ObligationInProgress])
	assert.Zero(t, statuses[constants.ObligationSuperseded])
}

func TestApplyStatusLastWriterWins(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	open := &Payload{Obligations: []ObligationInput{{ObligationType: "fee_payment", Status: "open"}}}
	done := &Payload{Obligations: []ObligationInput{{ObligationType: "fee_payment", Status: "satisfied"}}}

	require.NoError(t, applier.Apply(ctx, docID, open, Options{}))
	require.NoError(t, applier.Apply(ctx, docID, done, Options{}))

	obs, _ := store.countForDoc(docID)
	require.Equal(t, 1, obs)
	statuses := store.byStatus(docID)
	assert.Equal(t, 1, statuses[constants.ObligationSatisfied])
}

func TestApplyMalformedDueDateInsertsNull(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	ctx := context.Background()

	p := &Payload{Obligations: []ObligationInput{{
		ObligationType: "fee_payment",
		DueDate:        strptr("2025-13-99"),
	}}}
	require.NoError(t, applier.Apply(ctx, docID, p, Options{}))

	for _, ob := range store.obligations {
		assert.Nil(t, ob.DueDate)
	}
}

func TestApplyNilPayloadIsSchemaError(t *testing.T) {
	applier := NewApplier(newMemStore(), 0, nil)
	err := applier.Apply(context.Background(), uuid.New(), nil, Options{})
	var se *common.SchemaError
	require.ErrorAs(t, err, &se)
}

func TestApplyConcurrentSameDocumentSerializes(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()
	p := feePaymentPayload()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, applier.Apply(context.Background(), docID, p, Options{Supersede: true}))
		}()
	}
	wg.Wait()

	obs, evs := store.countForDoc(docID)
	assert.Equal(t, 1, obs)
	assert.Equal(t, 1, evs)
}

func TestApplyMintsDistinctRowIDs(t *testing.T) {
	store := newMemStore()
	applier := NewApplier(store, 0, nil)
	docID := uuid.New()

	// Two distinct obligations, each with evidence: the id UUID columns have
	// no database-side default, so the applier must mint every row id.
	p := feePaymentPayload()
	p.Obligations = append(p.Obligations, ObligationInput{
		ObligationType: "notice_delivery",
		Status:         "open",
		Evidence:       []EvidenceInput{{PageFrom: 3}},
	})
	require.NoError(t, applier.Apply(context.Background(), docID, p, Options{}))

	seen := map[uuid.UUID]struct{}{}
	for id, ob := range store.obligations {
		assert.NotEqual(t, uuid.Nil, id)
		assert.Equal(t, id, ob.ID)
		seen[id] = struct{}{}
	}
	for _, link := range store.evidence {
		assert.NotEqual(t, uuid.Nil, link.ID)
		seen[link.ID] = struct{}{}
	}
	assert.Len(t, seen, 4, "two obligation rows and two evidence rows, all distinct ids")
}

func TestApplyHonorsConfiguredTimeout(t *testing.T) {
	store := &deadlineStore{memStore: newMemStore()}
	applier := NewApplier(store, time.Minute, nil)

	require.NoError(t, applier.Apply(context.Background(), uuid.New(), feePaymentPayload(), Options{}))
	assert.True(t, store.sawDeadline, "apply transaction runs under a deadline")

	unbounded := &deadlineStore{memStore: newMemStore()}
	applier = NewApplier(unbounded, 0, nil)
	require.NoError(t, applier.Apply(context.Background(), uuid.New(), feePaymentPayload(), Options{}))
	assert.False(t, unbounded.sawDeadline, "zero timeout leaves the context unbounded")
}

type deadlineStore struct {
	*memStore
	sawDeadline bool
}

func (d *deadlineStore) WithDocumentTx(ctx context.Context, docID uuid.UUID, fn func(tx Tx) error) error {
	_, d.sawDeadline = ctx.Deadline()
	return d.memStore.WithDocumentTx(ctx, docID, fn)
}
