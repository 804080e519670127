package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inmodash/inmodash-backend/app/models"
)

// fakeRepo is an in-memory Repository. Transactions are serialized and roll
// back by restoring a snapshot.
type fakeRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users    map[uint]models.User
	subs     map[uint]models.Subscription
	payments map[string]models.SubscriptionPayment
	events   map[uint]models.BillingWebhookEvent
	orphans  map[string]models.OrphanedAgreement
	nextID   uint

	writes                 int
	failCreateSubscription error
	staleUpdates           int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    map[uint]models.User{},
		subs:     map[uint]models.Subscription{},
		payments: map[string]models.SubscriptionPayment{},
		events:   map[uint]models.BillingWebhookEvent{},
		orphans:  map[string]models.OrphanedAgreement{},
		nextID:   100,
	}
}

func (r *fakeRepo) addUser(id uint, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = models.User{ID: id, Email: email, SubscriptionStatus: models.UserSubscriptionNone}
}

func (r *fakeRepo) addSubscription(sub models.Subscription) uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	if sub.Version == 0 {
		sub.Version = 1
	}
	sub.SetStatus(sub.Status)
	sub.CreatedAt = time.Unix(int64(sub.ID), 0)
	r.subs[sub.ID] = sub
	return sub.ID
}

func (r *fakeRepo) user(id uint) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *fakeRepo) subscription(id uint) models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id]
}

func (r *fakeRepo) subscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *fakeRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

func (r *fakeRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *fakeRepo) event(id uint) models.BillingWebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id]
}

type fakeSnapshot struct {
	users    map[uint]models.User
	subs     map[uint]models.Subscription
	payments map[string]models.SubscriptionPayment
	orphans  map[string]models.OrphanedAgreement
	nextID   uint
	writes   int
}

func (r *fakeRepo) snapshot() fakeSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := fakeSnapshot{
		users:    make(map[uint]models.User, len(r.users)),
		subs:     make(map[uint]models.Subscription, len(r.subs)),
		payments: make(map[string]models.SubscriptionPayment, len(r.payments)),
		orphans:  make(map[string]models.OrphanedAgreement, len(r.orphans)),
		nextID:   r.nextID,
		writes:   r.writes,
	}
	for k, v := range r.users {
		s.users[k] = v
	}
	for k, v := range r.subs {
		s.subs[k] = v
	}
	for k, v := range r.payments {
		s.payments[k] = v
	}
	for k, v := range r.orphans {
		s.orphans[k] = v
	}
	return s
}

func (r *fakeRepo) restore(s fakeSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = s.users
	r.subs = s.subs
	r.payments = s.payments
	r.orphans = s.orphans
	r.nextID = s.nextID
	r.writes = s.writes
}

func (r *fakeRepo) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	snap := r.snapshot()
	if err := fn(r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *fakeRepo) GetUser(ctx context.Context, id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return &u, nil
}

func (r *fakeRepo) UpdateUserProjection(ctx context.Context, userID uint, p UserProjection) error {
	if len(p.Columns()) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	p.Apply(&u)
	r.users[userID] = u
	r.writes++
	return nil
}

func (r *fakeRepo) FindActiveSubscriptionByUser(ctx context.Context, userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []models.Subscription
	for _, s := range r.subs {
		if s.UserID == userID && s.IsActive() {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: active subscription for user %d", ErrNotFound, userID)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID > found[j].ID })
	return &found[0], nil
}

func (r *fakeRepo) GetSubscriptionByID(ctx context.Context, id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %d", ErrNotFound, id)
	}
	return &s, nil
}

func (r *fakeRepo) GetSubscriptionByAgreementID(ctx context.Context, agreementID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.AgreementID() == agreementID {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: subscription for agreement %s", ErrNotFound, agreementID)
}

func (r *fakeRepo) activeSlotTaken(sub *models.Subscription) bool {
	if sub.ActiveUserID == nil {
		return false
	}
	for id, s := range r.subs {
		if id != sub.ID && s.ActiveUserID != nil && *s.ActiveUserID == *sub.ActiveUserID {
			return true
		}
	}
	return false
}

func (r *fakeRepo) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateSubscription != nil {
		return r.failCreateSubscription
	}
	if r.activeSlotTaken(sub) {
		return fmt.Errorf("%w: active subscription for user %d already exists", ErrConflict, sub.UserID)
	}
	r.nextID++
	sub.ID = r.nextID
	if sub.Version == 0 {
		sub.Version = 1
	}
	sub.CreatedAt = time.Now()
	r.subs[sub.ID] = *sub
	r.writes++
	return nil
}

func (r *fakeRepo) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.subs[sub.ID]
	if !ok {
		return fmt.Errorf("%w: subscription %d", ErrNotFound, sub.ID)
	}
	if r.staleUpdates > 0 {
		// Simulate another writer committing first.
		r.staleUpdates--
		stored.Version++
		r.subs[sub.ID] = stored
	}
	if stored.Version != sub.Version {
		return fmt.Errorf("%w: id=%d version=%d", ErrStaleSubscription, sub.ID, sub.Version)
	}
	if r.activeSlotTaken(sub) {
		return fmt.Errorf("%w: active subscription for user %d already exists", ErrConflict, sub.UserID)
	}
	sub.Version++
	r.subs[sub.ID] = *sub
	r.writes++
	return nil
}

func (r *fakeRepo) CreatePaymentIfNotExists(ctx context.Context, payment *models.SubscriptionPayment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.ProviderPaymentID]; ok {
		return false, nil
	}
	r.nextID++
	payment.ID = r.nextID
	payment.CreatedAt = time.Unix(int64(payment.ID), 0)
	r.payments[payment.ProviderPaymentID] = *payment
	r.writes++
	return true, nil
}

func (r *fakeRepo) ListRecentPayments(ctx context.Context, subscriptionID uint, limit int) ([]models.SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SubscriptionPayment
	for _, p := range r.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			stored := e
			return false, &stored, nil
		}
	}
	r.nextID++
	event.ID = r.nextID
	event.CreatedAt = time.Now()
	r.events[event.ID] = *event
	stored := *event
	return true, &stored, nil
}

func (r *fakeRepo) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: webhook event %d", ErrNotFound, id)
	}
	return &e, nil
}

func (r *fakeRepo) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("%w: webhook event %d", ErrNotFound, id)
	}
	now := time.Now()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	e.Attempts++
	r.events[id] = e
	return nil
}

func (r *fakeRepo) ListRedrivableWebhookEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingWebhookEvent
	for _, e := range r.events {
		if !e.SignatureValid || !e.CreatedAt.Before(olderThan) || e.Attempts >= maxAttempts {
			continue
		}
		if e.ProcessedAt == nil || (e.ProcessingError != "" && !hasFinalPrefix(e.ProcessingError)) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasFinalPrefix(s string) bool {
	return len(s) >= len(finalErrorPrefix) && s[:len(finalErrorPrefix)] == finalErrorPrefix
}

func (r *fakeRepo) CreateOrphanedAgreementIfNotExists(ctx context.Context, orphan *models.OrphanedAgreement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orphans[orphan.ProviderAgreementID]; ok {
		return false, nil
	}
	r.nextID++
	orphan.ID = r.nextID
	r.orphans[orphan.ProviderAgreementID] = *orphan
	return true, nil
}

func (r *fakeRepo) orphan(agreementID string) (models.OrphanedAgreement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orphans[agreementID]
	return o, ok
}

// fakeGateway is an in-memory Gateway with injectable failures.
type fakeGateway struct {
	mu sync.Mutex

	agreements map[string]Agreement
	payments   map[string]Payment
	created    []AgreementRequest
	updates    []string
	getCalls   int
	nextID     int

	createErr error
	updateErr error
	getErr    error
	searchErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		agreements: map[string]Agreement{},
		payments:   map[string]Payment{},
	}
}

func (g *fakeGateway) setAgreement(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.agreements[id]
	a.ID = id
	a.Status = status
	g.agreements[id] = a
}

func (g *fakeGateway) putAgreement(a Agreement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agreements[a.ID] = a
}

func (g *fakeGateway) setPayment(p Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Raw == nil {
		p.Raw, _ = json.Marshal(map[string]string{"id": p.ID, "status": p.Status})
	}
	g.payments[p.ID] = p
}

func (g *fakeGateway) CreateAgreement(ctx context.Context, req AgreementRequest) (*Agreement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	a := Agreement{
		ID:                fmt.Sprintf("AGR-%d", g.nextID),
		Status:            req.Status,
		CheckoutURL:       fmt.Sprintf("https://checkout.example/AGR-%d", g.nextID),
		PayerEmail:        req.PayerEmail,
		ExternalReference: req.ExternalReference,
	}
	g.agreements[a.ID] = a
	return &a, nil
}

func (g *fakeGateway) GetAgreement(ctx context.Context, id string) (*Agreement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	a, ok := g.agreements[id]
	if !ok {
		return nil, errors.New("agreement not found at provider")
	}
	return &a, nil
}

func (g *fakeGateway) UpdateAgreement(ctx context.Context, id, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, id+":"+status)
	if g.updateErr != nil {
		return g.updateErr
	}
	a := g.agreements[id]
	a.ID = id
	a.Status = status
	g.agreements[id] = a
	return nil
}

func (g *fakeGateway) SearchAgreements(ctx context.Context, since time.Time) ([]Agreement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.searchErr != nil {
		return nil, g.searchErr
	}
	var out []Agreement
	for _, a := range g.agreements {
		if a.DateCreated != nil && a.DateCreated.Before(since) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, id string) (*Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, errors.New("payment not found at provider")
	}
	return &p, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getCalls
}

// testClock is a settable clock for Service.now.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService(repo *fakeRepo, gw *fakeGateway, clock *testClock) *Service {
	svc := NewService(repo, gw, DefaultConfig())
	svc.now = clock.Now
	return svc
}
