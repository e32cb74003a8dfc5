package repository

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/pkg/hierarchy"
)

// MemoryStore is an in-memory implementation of the full repository Set,
// used by tests and local development without Postgres. MemoryRunner gives
// it transactional semantics by snapshotting state on entry and restoring
// it when the transaction function fails.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState

	// FailAppend, when set, is consulted before every event append. Tests
	// use it to simulate a version collision between concurrent writers.
	FailAppend func(domain.Event) error
}

type memoryState struct {
	events        map[uuid.UUID]domain.Event
	eventOrder    []uuid.UUID
	organizations map[uuid.UUID]domain.Organization
	units         map[uuid.UUID]domain.OrganizationUnit
	medications   map[uuid.UUID]domain.Medication
	prescriptions map[uuid.UUID]domain.Prescription
	contacts      map[uuid.UUID]domain.Contact
	invitations   map[uuid.UUID]domain.Invitation
	audit         []domain.AuditEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		events:        make(map[uuid.UUID]domain.Event),
		organizations: make(map[uuid.UUID]domain.Organization),
		units:         make(map[uuid.UUID]domain.OrganizationUnit),
		medications:   make(map[uuid.UUID]domain.Medication),
		prescriptions: make(map[uuid.UUID]domain.Prescription),
		contacts:      make(map[uuid.UUID]domain.Contact),
		invitations:   make(map[uuid.UUID]domain.Invitation),
	}
}

// Set returns a repository Set backed by this store. The db.DBTX argument
// exists so the function satisfies Factory; it is ignored.
func (s *MemoryStore) Set(db.DBTX) Set {
	return Set{
		Events:        &memoryEventRepo{s},
		Organizations: &memoryOrganizationRepo{s},
		Units:         &memoryUnitRepo{s},
		Medications:   &memoryMedicationRepo{s},
		Prescriptions: &memoryPrescriptionRepo{s},
		Contacts:      &memoryContactRepo{s},
		Invitations:   &memoryInvitationRepo{s},
		Audit:         &memoryAuditRepo{s},
	}
}

func (s *MemoryStore) snapshot() memoryState {
	snap := memoryState{
		events:        maps.Clone(s.state.events),
		eventOrder:    append([]uuid.UUID(nil), s.state.eventOrder...),
		organizations: maps.Clone(s.state.organizations),
		units:         maps.Clone(s.state.units),
		medications:   maps.Clone(s.state.medications),
		prescriptions: maps.Clone(s.state.prescriptions),
		contacts:      maps.Clone(s.state.contacts),
		invitations:   maps.Clone(s.state.invitations),
		audit:         append([]domain.AuditEntry(nil), s.state.audit...),
	}
	return snap
}

// MemoryRunner mirrors the commit/rollback contract of db.Connection over a
// MemoryStore: state changes made by fn are kept on success and discarded
// when fn returns an error or panics.
//
// Rollback restores a whole-store snapshot, so transactions must not
// overlap: callers are assumed to be a single writer. Tests that run
// transactions in parallel need their own store per goroutine.
type MemoryRunner struct {
	Store *MemoryStore
}

// RunInTx executes fn with rollback-on-error semantics.
func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(db.DBTX) error) error {
	r.Store.mu.Lock()
	snap := r.Store.snapshot()
	r.Store.mu.Unlock()

	restore := func() {
		r.Store.mu.Lock()
		r.Store.state = snap
		r.Store.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err := fn(&memoryTx{store: r.Store}); err != nil {
		restore()
		return err
	}
	return nil
}

var errMemoryNoSQL = errors.New("memory store does not execute SQL")

// memoryTx is the DBTX handed to transaction callbacks. The memory
// repositories ignore it and write to the store directly; it exists to
// provide savepoint scoping with the same snapshot-restore mechanism the
// runner uses.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errMemoryNoSQL
}

func (t *memoryTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errMemoryNoSQL
}

func (t *memoryTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{err: errMemoryNoSQL}
}

func (t *memoryTx) BeginSavepoint(context.Context) (db.SavepointTx, error) {
	t.store.mu.Lock()
	snap := t.store.snapshot()
	t.store.mu.Unlock()
	return &memorySavepoint{memoryTx: memoryTx{store: t.store}, snap: snap}, nil
}

type memorySavepoint struct {
	memoryTx
	snap memoryState
}

func (sp *memorySavepoint) Commit(context.Context) error { return nil }

func (sp *memorySavepoint) Rollback(context.Context) error {
	sp.store.mu.Lock()
	sp.store.state = sp.snap
	sp.store.mu.Unlock()
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type memoryEventRepo struct{ store *MemoryStore }

func (r *memoryEventRepo) Append(ctx context.Context, event domain.Event) (domain.Event, error) {
	if err := event.Validate(); err != nil {
		return domain.Event{}, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if r.store.FailAppend != nil {
		if err := r.store.FailAppend(event); err != nil {
			return domain.Event{}, err
		}
	}

	var max int64
	for _, existing := range r.store.state.events {
		if existing.StreamID == event.StreamID && existing.StreamType == event.StreamType && existing.StreamVersion > max {
			max = existing.StreamVersion
		}
	}
	event.StreamVersion = max + 1
	event.EventData = maps.Clone(event.EventData)
	r.store.state.events[event.ID] = event
	r.store.state.eventOrder = append(r.store.state.eventOrder, event.ID)
	return event, nil
}

func (r *memoryEventRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	evt, ok := r.store.state.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return evt, nil
}

func (r *memoryEventRepo) ListByStream(ctx context.Context, streamID uuid.UUID, streamType string) ([]domain.Event, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var events []domain.Event
	for _, id := range r.store.state.eventOrder {
		evt := r.store.state.events[id]
		if evt.StreamID == streamID && evt.StreamType == streamType {
			events = append(events, evt)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StreamVersion < events[j].StreamVersion })
	return events, nil
}

func (r *memoryEventRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.Event, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var events []domain.Event
	for _, id := range r.store.state.eventOrder {
		evt := r.store.state.events[id]
		if evt.EventMetadata.CorrelationID == correlationID {
			events = append(events, evt)
		}
	}
	return events, nil
}

func (r *memoryEventRepo) ListFailed(ctx context.Context, limit int) ([]domain.Event, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var events []domain.Event
	for _, id := range r.store.state.eventOrder {
		evt := r.store.state.events[id]
		if evt.ProcessingError != nil {
			events = append(events, evt)
			if len(events) == limit {
				break
			}
		}
	}
	return events, nil
}

func (r *memoryEventRepo) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	evt, ok := r.store.state.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	evt.ProcessedAt = &at
	evt.ProcessingError = nil
	r.store.state.events[id] = evt
	return nil
}

func (r *memoryEventRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	evt, ok := r.store.state.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	evt.ProcessingError = &message
	r.store.state.events[id] = evt
	return nil
}

func (r *memoryEventRepo) ClearProcessing(ctx context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	evt, ok := r.store.state.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	evt.ProcessedAt = nil
	evt.ProcessingError = nil
	r.store.state.events[id] = evt
	return nil
}

type memoryOrganizationRepo struct{ store *MemoryStore }

func (r *memoryOrganizationRepo) InsertIfAbsent(ctx context.Context, org domain.Organization) error {
	if err := auth.Authorize(ctx, org.Path); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.organizations[org.ID]; exists {
		return nil
	}
	for _, existing := range r.store.state.organizations {
		if existing.Slug == org.Slug {
			return nil
		}
	}
	org.Metadata = maps.Clone(org.Metadata)
	r.store.state.organizations[org.ID] = org
	return nil
}

func (r *memoryOrganizationRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	r.store.mu.Lock()
	org, ok := r.store.state.organizations[id]
	r.store.mu.Unlock()
	if !ok {
		return domain.Organization{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, org.Path); err != nil {
		return domain.Organization{}, err
	}
	return org, nil
}

func (r *memoryOrganizationRepo) GetBySlug(ctx context.Context, slug string) (domain.Organization, error) {
	r.store.mu.Lock()
	var found *domain.Organization
	for _, org := range r.store.state.organizations {
		if org.Slug == slug {
			o := org
			found = &o
			break
		}
	}
	r.store.mu.Unlock()
	if found == nil {
		return domain.Organization{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, found.Path); err != nil {
		return domain.Organization{}, err
	}
	return *found, nil
}

func (r *memoryOrganizationRepo) List(ctx context.Context) ([]domain.Organization, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, &domain.AuthorizationError{Reason: "no actor on context"}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var orgs []domain.Organization
	for _, org := range r.store.state.organizations {
		if actor.IsSuperAdmin || auth.AuthorizeActor(actor, org.Path) == nil {
			orgs = append(orgs, org)
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Slug < orgs[j].Slug })
	return orgs, nil
}

func (r *memoryOrganizationRepo) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.OrganizationPatch) error {
	org, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if patch.Name != nil {
		org.Name = *patch.Name
	}
	org.Metadata = mergeMetadata(org.Metadata, patch.Metadata)
	org.UpdatedAt = time.Now().UTC()
	r.store.state.organizations[id] = org
	return nil
}

func (r *memoryOrganizationRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	org, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	org.IsActive = active
	org.UpdatedAt = time.Now().UTC()
	r.store.state.organizations[id] = org
	return nil
}

func (r *memoryOrganizationRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	org, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	org.DeletedAt = &at
	org.IsActive = false
	org.UpdatedAt = at
	r.store.state.organizations[id] = org
	return nil
}

type memoryUnitRepo struct{ store *MemoryStore }

func (r *memoryUnitRepo) InsertIfAbsent(ctx context.Context, unit domain.OrganizationUnit) error {
	if err := auth.AuthorizeSubUnitWrite(ctx, unit.Path); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.units[unit.ID]; exists {
		return nil
	}
	for _, existing := range r.store.state.units {
		if existing.OrganizationID == unit.OrganizationID && existing.Slug == unit.Slug {
			return nil
		}
	}
	unit.Metadata = maps.Clone(unit.Metadata)
	r.store.state.units[unit.ID] = unit
	return nil
}

func (r *memoryUnitRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.OrganizationUnit, error) {
	r.store.mu.Lock()
	unit, ok := r.store.state.units[id]
	r.store.mu.Unlock()
	if !ok {
		return domain.OrganizationUnit{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, unit.Path); err != nil {
		return domain.OrganizationUnit{}, err
	}
	return unit, nil
}

func (r *memoryUnitRepo) GetBySlug(ctx context.Context, organizationID uuid.UUID, slug string) (domain.OrganizationUnit, error) {
	r.store.mu.Lock()
	var found *domain.OrganizationUnit
	for _, unit := range r.store.state.units {
		if unit.OrganizationID == organizationID && unit.Slug == slug {
			u := unit
			found = &u
			break
		}
	}
	r.store.mu.Unlock()
	if found == nil {
		return domain.OrganizationUnit{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, found.Path); err != nil {
		return domain.OrganizationUnit{}, err
	}
	return *found, nil
}

func (r *memoryUnitRepo) List(ctx context.Context, organizationID uuid.UUID) ([]domain.OrganizationUnit, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, &domain.AuthorizationError{Reason: "no actor on context"}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var units []domain.OrganizationUnit
	for _, unit := range r.store.state.units {
		if unit.OrganizationID != organizationID {
			continue
		}
		if actor.IsSuperAdmin || auth.AuthorizeActor(actor, unit.Path) == nil {
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })
	return units, nil
}

func (r *memoryUnitRepo) ListActiveDescendants(ctx context.Context, path string) ([]domain.OrganizationUnit, error) {
	if err := auth.Authorize(ctx, path); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var units []domain.OrganizationUnit
	for _, unit := range r.store.state.units {
		if unit.Path == path || !unit.IsActive || unit.DeletedAt != nil {
			continue
		}
		if hierarchy.Contains(path, unit.Path) {
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })
	return units, nil
}

func (r *memoryUnitRepo) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.OrganizationUnitPatch) error {
	unit, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if patch.Name != nil {
		unit.Name = *patch.Name
	}
	unit.Metadata = mergeMetadata(unit.Metadata, patch.Metadata)
	unit.UpdatedAt = time.Now().UTC()
	r.store.state.units[id] = unit
	return nil
}

func (r *memoryUnitRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	unit, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	unit.IsActive = active
	unit.UpdatedAt = time.Now().UTC()
	r.store.state.units[id] = unit
	return nil
}

func (r *memoryUnitRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	unit, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	unit.DeletedAt = &at
	unit.IsActive = false
	unit.UpdatedAt = at
	r.store.state.units[id] = unit
	return nil
}

type memoryMedicationRepo struct{ store *MemoryStore }

func (r *memoryMedicationRepo) InsertIfAbsent(ctx context.Context, med domain.Medication) error {
	if err := auth.Authorize(ctx, med.Path); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.medications[med.ID]; exists {
		return nil
	}
	for _, existing := range r.store.state.medications {
		if existing.OrganizationID == med.OrganizationID && existing.Reference == med.Reference {
			return nil
		}
	}
	med.Metadata = maps.Clone(med.Metadata)
	r.store.state.medications[med.ID] = med
	return nil
}

func (r *memoryMedicationRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Medication, error) {
	r.store.mu.Lock()
	med, ok := r.store.state.medications[id]
	r.store.mu.Unlock()
	if !ok {
		return domain.Medication{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, med.Path); err != nil {
		return domain.Medication{}, err
	}
	return med, nil
}

func (r *memoryMedicationRepo) GetByReference(ctx context.Context, organizationID uuid.UUID, reference string) (domain.Medication, error) {
	r.store.mu.Lock()
	var found *domain.Medication
	for _, med := range r.store.state.medications {
		if med.OrganizationID == organizationID && med.Reference == reference {
			m := med
			found = &m
			break
		}
	}
	r.store.mu.Unlock()
	if found == nil {
		return domain.Medication{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, found.Path); err != nil {
		return domain.Medication{}, err
	}
	return *found, nil
}

func (r *memoryMedicationRepo) List(ctx context.Context, organizationID uuid.UUID) ([]domain.Medication, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, &domain.AuthorizationError{Reason: "no actor on context"}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var meds []domain.Medication
	for _, med := range r.store.state.medications {
		if med.OrganizationID != organizationID {
			continue
		}
		if actor.IsSuperAdmin || auth.AuthorizeActor(actor, med.Path) == nil {
			meds = append(meds, med)
		}
	}
	sort.Slice(meds, func(i, j int) bool { return meds[i].Reference < meds[j].Reference })
	return meds, nil
}

func (r *memoryMedicationRepo) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.MedicationPatch) error {
	med, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if patch.PatientName != nil {
		med.PatientName = *patch.PatientName
	}
	if patch.MedicationName != nil {
		med.MedicationName = *patch.MedicationName
	}
	if patch.Dosage != nil {
		med.Dosage = *patch.Dosage
	}
	if patch.PrescriberName != nil {
		med.PrescriberName = *patch.PrescriberName
	}
	if patch.Status != nil {
		med.Status = *patch.Status
	}
	if patch.DiscontinueReason != nil {
		med.DiscontinueReason = *patch.DiscontinueReason
	}
	med.Metadata = mergeMetadata(med.Metadata, patch.Metadata)
	med.UpdatedAt = time.Now().UTC()
	r.store.state.medications[id] = med
	return nil
}

type memoryPrescriptionRepo struct{ store *MemoryStore }

func (r *memoryPrescriptionRepo) InsertIfAbsent(ctx context.Context, p domain.Prescription) error {
	if err := auth.Authorize(ctx, p.Path); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.prescriptions[p.ID]; exists {
		return nil
	}
	r.store.state.prescriptions[p.ID] = p
	return nil
}

func (r *memoryPrescriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Prescription, error) {
	r.store.mu.Lock()
	p, ok := r.store.state.prescriptions[id]
	r.store.mu.Unlock()
	if !ok {
		return domain.Prescription{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, p.Path); err != nil {
		return domain.Prescription{}, err
	}
	return p, nil
}

func (r *memoryPrescriptionRepo) ListByMedication(ctx context.Context, medicationID uuid.UUID) ([]domain.Prescription, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, &domain.AuthorizationError{Reason: "no actor on context"}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var list []domain.Prescription
	for _, p := range r.store.state.prescriptions {
		if p.MedicationID != medicationID {
			continue
		}
		if actor.IsSuperAdmin || auth.AuthorizeActor(actor, p.Path) == nil {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r *memoryPrescriptionRepo) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.PrescriptionPatch) error {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	if patch.RefillsRemaining != nil {
		p.RefillsRemaining = *patch.RefillsRemaining
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.UpdatedAt = time.Now().UTC()
	r.store.state.prescriptions[id] = p
	return nil
}

type memoryContactRepo struct{ store *MemoryStore }

func (r *memoryContactRepo) InsertIfAbsent(ctx context.Context, c domain.Contact) error {
	if err := auth.Authorize(ctx, c.Path); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.contacts[c.ID]; exists {
		return nil
	}
	c.Metadata = maps.Clone(c.Metadata)
	r.store.state.contacts[c.ID] = c
	return nil
}

func (r *memoryContactRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Contact, error) {
	r.store.mu.Lock()
	c, ok := r.store.state.contacts[id]
	r.store.mu.Unlock()
	if !ok {
		return domain.Contact{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, c.Path); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

func (r *memoryContactRepo) List(ctx context.Context, organizationID uuid.UUID) ([]domain.Contact, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, &domain.AuthorizationError{Reason: "no actor on context"}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var contacts []domain.Contact
	for _, c := range r.store.state.contacts {
		if c.OrganizationID != organizationID {
			continue
		}
		if actor.IsSuperAdmin || auth.AuthorizeActor(actor, c.Path) == nil {
			contacts = append(contacts, c)
		}
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Name < contacts[j].Name })
	return contacts, nil
}

func (r *memoryContactRepo) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.ContactPatch) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.PhoneNumber != nil {
		c.PhoneNumber = *patch.PhoneNumber
	}
	if patch.Email != nil {
		c.Email = *patch.Email
	}
	if patch.AddressLine != nil {
		c.AddressLine = *patch.AddressLine
	}
	if patch.City != nil {
		c.City = *patch.City
	}
	if patch.PostalCode != nil {
		c.PostalCode = *patch.PostalCode
	}
	c.Metadata = mergeMetadata(c.Metadata, patch.Metadata)
	c.UpdatedAt = time.Now().UTC()
	r.store.state.contacts[id] = c
	return nil
}

func (r *memoryContactRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c.IsActive = active
	c.UpdatedAt = time.Now().UTC()
	r.store.state.contacts[id] = c
	return nil
}

func (r *memoryContactRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c.DeletedAt = &at
	c.IsActive = false
	c.UpdatedAt = at
	r.store.state.contacts[id] = c
	return nil
}

type memoryInvitationRepo struct{ store *MemoryStore }

func (r *memoryInvitationRepo) InsertIfAbsent(ctx context.Context, inv domain.Invitation) error {
	if err := auth.Authorize(ctx, inv.Path); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.invitations[inv.ID]; exists {
		return nil
	}
	r.store.state.invitations[inv.ID] = inv
	return nil
}

func (r *memoryInvitationRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Invitation, error) {
	r.store.mu.Lock()
	inv, ok := r.store.state.invitations[id]
	r.store.mu.Unlock()
	if !ok {
		return domain.Invitation{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, inv.Path); err != nil {
		return domain.Invitation{}, err
	}
	return inv, nil
}

func (r *memoryInvitationRepo) GetByEmail(ctx context.Context, organizationID uuid.UUID, email string) (domain.Invitation, error) {
	r.store.mu.Lock()
	var found *domain.Invitation
	for _, inv := range r.store.state.invitations {
		if inv.OrganizationID != organizationID || inv.Email != email {
			continue
		}
		if found == nil || inv.CreatedAt.After(found.CreatedAt) {
			i := inv
			found = &i
		}
	}
	r.store.mu.Unlock()
	if found == nil {
		return domain.Invitation{}, domain.ErrNotFound
	}
	if err := auth.Authorize(ctx, found.Path); err != nil {
		return domain.Invitation{}, err
	}
	return *found, nil
}

func (r *memoryInvitationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, acceptedAt *time.Time) error {
	inv, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	inv.Status = status
	if acceptedAt != nil {
		inv.AcceptedAt = acceptedAt
	}
	inv.UpdatedAt = time.Now().UTC()
	r.store.state.invitations[id] = inv
	return nil
}

type memoryAuditRepo struct{ store *MemoryStore }

func (r *memoryAuditRepo) Record(ctx context.Context, entry domain.AuditEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry.Detail = maps.Clone(entry.Detail)
	r.store.state.audit = append(r.store.state.audit, entry)
	return nil
}

func (r *memoryAuditRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.AuditEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var entries []domain.AuditEntry
	for _, entry := range r.store.state.audit {
		if entry.CorrelationID == correlationID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *memoryAuditRepo) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]domain.AuditEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var entries []domain.AuditEntry
	for _, entry := range r.store.state.audit {
		if entry.AggregateID == aggregateID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func mergeMetadata(existing, patch map[string]any) map[string]any {
	if len(patch) == 0 {
		return existing
	}
	merged := maps.Clone(existing)
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}
	maps.Copy(merged, patch)
	return merged
}
