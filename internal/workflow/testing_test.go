package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
)

// fakeStore is an in-memory Store. WithOrderLock serializes callbacks with
// a mutex, standing in for the row lock the gorm store takes; it does not
// roll anything back on error, so tests assert on states the real
// transaction would also leave behind.
type fakeStore struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*models.DeliveryOrder
	bopLines  map[uuid.UUID]*models.BOPLine
	saleLines map[uuid.UUID]*models.SaleLine
	tiers     []*models.TierDefinition
	reviews   []*models.TierReview
	vehicles  map[uuid.UUID]*models.Vehicle
	drivers   map[uuid.UUID]*models.Driver
	accounts  map[string]*models.AnalyticAccount
	outbox    []*models.OutboxMessage

	nextSeq int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[uuid.UUID]*models.DeliveryOrder),
		bopLines:  make(map[uuid.UUID]*models.BOPLine),
		saleLines: make(map[uuid.UUID]*models.SaleLine),
		vehicles:  make(map[uuid.UUID]*models.Vehicle),
		drivers:   make(map[uuid.UUID]*models.Driver),
		accounts:  make(map[string]*models.AnalyticAccount),
	}
}

func (s *fakeStore) DeliveryOrders() repositories.DeliveryOrderRepository { return &fakeOrders{s} }
func (s *fakeStore) BOPLines() repositories.BOPLineRepository            { return &fakeBOPLines{s} }
func (s *fakeStore) SaleLines() repositories.SaleLineRepository          { return &fakeSaleLines{s} }
func (s *fakeStore) Tiers() repositories.TierRepository                  { return &fakeTiers{s} }
func (s *fakeStore) Reviews() repositories.TierReviewRepository          { return &fakeReviews{s} }
func (s *fakeStore) Vehicles() repositories.VehicleRepository            { return &fakeVehicles{s} }
func (s *fakeStore) Drivers() repositories.DriverRepository              { return &fakeDrivers{s} }
func (s *fakeStore) AnalyticAccounts() repositories.AnalyticAccountRepository {
	return &fakeAccounts{s}
}
func (s *fakeStore) Outbox() repositories.OutboxRepository { return &fakeOutbox{s} }

func (s *fakeStore) WithOrderLock(ctx context.Context, orderID uuid.UUID, fn func(repositories.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return repositories.ErrNotFound
	}
	return fn(s)
}

type fakeOrders struct{ s *fakeStore }

func (r *fakeOrders) Create(ctx context.Context, order *models.DeliveryOrder) error {
	cp := *order
	r.s.orders[order.ID] = &cp
	return nil
}

func (r *fakeOrders) GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOrder, error) {
	order, ok := r.s.orders[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *fakeOrders) GetByName(ctx context.Context, name string) (*models.DeliveryOrder, error) {
	for _, order := range r.s.orders {
		if order.Name == name {
			cp := *order
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeOrders) UpdateColumns(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error {
	order, ok := r.s.orders[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if order.Frozen() {
		for col := range columns {
			if !models.FrozenWritable(col) {
				return repositories.ErrFrozenMutation
			}
		}
	}
	for col, v := range columns {
		switch col {
		case "state":
			order.State = v.(models.DOState)
		case "status_do":
			order.StatusDo = v.(string)
		case "reviewer_id":
			if v == nil {
				order.ReviewerID = nil
			} else {
				id := v.(uuid.UUID)
				order.ReviewerID = &id
			}
		case "bop_paid":
			order.BopPaid = v.(decimal.Decimal)
		case "bop_percentage_paid":
			order.BopPercentagePaid = v.(decimal.Decimal)
		case "delivered":
			order.Delivered = v.(bool)
		default:
			return fmt.Errorf("fake store: unsupported order column %q", col)
		}
	}
	return nil
}

func (r *fakeOrders) FindByState(ctx context.Context, state models.DOState) ([]models.DeliveryOrder, error) {
	var out []models.DeliveryOrder
	for _, order := range r.s.orders {
		if order.State == state {
			out = append(out, *order)
		}
	}
	return out, nil
}

type fakeBOPLines struct{ s *fakeStore }

func (r *fakeBOPLines) Create(ctx context.Context, line *models.BOPLine) error {
	r.s.nextSeq++
	line.Seq = r.s.nextSeq
	line.Number = fmt.Sprintf("BOP/%d/%05d", time.Now().Year(), line.Seq)
	cp := *line
	r.s.bopLines[line.ID] = &cp
	return nil
}

func (r *fakeBOPLines) GetByID(ctx context.Context, id uuid.UUID) (*models.BOPLine, error) {
	line, ok := r.s.bopLines[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *line
	return &cp, nil
}

func (r *fakeBOPLines) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.BOPLine, error) {
	var out []models.BOPLine
	for _, line := range r.s.bopLines {
		if line.DeliveryOrderID == orderID {
			out = append(out, *line)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *fakeBOPLines) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.BOPLine, error) {
	all, _ := r.FindByOrder(ctx, orderID)
	var out []models.BOPLine
	for _, line := range all {
		if line.Active() {
			out = append(out, line)
		}
	}
	return out, nil
}

func (r *fakeBOPLines) UpdateColumns(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error {
	line, ok := r.s.bopLines[id]
	if !ok {
		return repositories.ErrNotFound
	}
	for col, v := range columns {
		switch col {
		case "percentage_paid":
			line.PercentagePaid = v.(decimal.Decimal)
		case "amount_paid":
			line.AmountPaid = v.(decimal.Decimal)
		case "state":
			line.State = v.(models.BOPState)
		case "requester_id":
			id := v.(uuid.UUID)
			line.RequesterID = &id
		default:
			return fmt.Errorf("fake store: unsupported bop line column %q", col)
		}
	}
	return nil
}

func (r *fakeBOPLines) Delete(ctx context.Context, id uuid.UUID) error {
	line, ok := r.s.bopLines[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if line.Final() {
		return repositories.ErrLineImmutable
	}
	delete(r.s.bopLines, id)
	return nil
}

type fakeSaleLines struct{ s *fakeStore }

func (r *fakeSaleLines) Create(ctx context.Context, line *models.SaleLine) error {
	cp := *line
	r.s.saleLines[line.ID] = &cp
	return nil
}

func (r *fakeSaleLines) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SaleLine, error) {
	var out []models.SaleLine
	for _, line := range r.s.saleLines {
		if line.DeliveryOrderID == orderID {
			out = append(out, *line)
		}
	}
	return out, nil
}

func (r *fakeSaleLines) SetAnalyticAccount(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error {
	line, ok := r.s.saleLines[id]
	if !ok {
		return repositories.ErrNotFound
	}
	line.AnalyticAccountID = &accountID
	return nil
}

func (r *fakeSaleLines) MarkToInvoice(ctx context.Context, orderID uuid.UUID) error {
	for _, line := range r.s.saleLines {
		if line.DeliveryOrderID == orderID {
			line.ToInvoice = true
		}
	}
	return nil
}

type fakeTiers struct{ s *fakeStore }

func (r *fakeTiers) Find(ctx context.Context, docType models.DocType, targetState string) (*models.TierDefinition, error) {
	for _, tier := range r.s.tiers {
		if tier.DocType == docType && tier.TargetState == targetState && tier.Active {
			cp := *tier
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

type fakeReviews struct{ s *fakeStore }

func (r *fakeReviews) Create(ctx context.Context, review *models.TierReview) error {
	cp := *review
	cp.CreatedAt = time.Now()
	r.s.reviews = append(r.s.reviews, &cp)
	return nil
}

func (r *fakeReviews) FindPending(ctx context.Context, docType models.DocType, docID uuid.UUID, targetState string) (*models.TierReview, error) {
	for _, review := range r.s.reviews {
		if review.DocType == docType && review.DocID == docID &&
			review.TargetState == targetState && review.Status == models.ReviewPending {
			cp := *review
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeReviews) HasPending(ctx context.Context, docType models.DocType, docID uuid.UUID, targetState string, reviewerID uuid.UUID) (bool, error) {
	for _, review := range r.s.reviews {
		if review.DocType == docType && review.DocID == docID &&
			review.TargetState == targetState && review.ReviewerID == reviewerID &&
			review.Status == models.ReviewPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeReviews) FindOpenByDoc(ctx context.Context, docType models.DocType, docID uuid.UUID) ([]models.TierReview, error) {
	var out []models.TierReview
	for _, review := range r.s.reviews {
		if review.DocType == docType && review.DocID == docID && review.Status == models.ReviewPending {
			out = append(out, *review)
		}
	}
	return out, nil
}

func (r *fakeReviews) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.TierReview, error) {
	var out []models.TierReview
	for _, review := range r.s.reviews {
		if review.Status == models.ReviewPending && review.CreatedAt.Before(cutoff) {
			out = append(out, *review)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeReviews) ListByDoc(ctx context.Context, docType models.DocType, docID uuid.UUID) ([]models.TierReview, error) {
	var out []models.TierReview
	for _, review := range r.s.reviews {
		if review.DocType == docType && review.DocID == docID {
			out = append(out, *review)
		}
	}
	return out, nil
}

func (r *fakeReviews) MarkDecided(ctx context.Context, id uuid.UUID, status models.ReviewStatus, comment string) error {
	for _, review := range r.s.reviews {
		if review.ID == id && review.Status == models.ReviewPending {
			now := time.Now()
			review.Status = status
			review.Comment = comment
			review.DecidedAt = &now
			return nil
		}
	}
	return repositories.ErrNotFound
}

type fakeVehicles struct{ s *fakeStore }

func (r *fakeVehicles) GetByID(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	vehicle, ok := r.s.vehicles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *vehicle
	return &cp, nil
}

func (r *fakeVehicles) SetStatus(ctx context.Context, id uuid.UUID, status models.VehicleStatus) error {
	vehicle, ok := r.s.vehicles[id]
	if !ok {
		return repositories.ErrNotFound
	}
	vehicle.Status = status
	return nil
}

func (r *fakeVehicles) SetUtilizationTarget(ctx context.Context, id uuid.UUID, target decimal.Decimal) error {
	vehicle, ok := r.s.vehicles[id]
	if !ok {
		return repositories.ErrNotFound
	}
	vehicle.UtilizationTarget = target
	return nil
}

type fakeDrivers struct{ s *fakeStore }

func (r *fakeDrivers) GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	driver, ok := r.s.drivers[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *driver
	return &cp, nil
}

func (r *fakeDrivers) SetStatus(ctx context.Context, id uuid.UUID, status models.DriverStatus) error {
	driver, ok := r.s.drivers[id]
	if !ok {
		return repositories.ErrNotFound
	}
	driver.Status = status
	return nil
}

type fakeAccounts struct{ s *fakeStore }

func (r *fakeAccounts) GetOrCreateByName(ctx context.Context, name string) (*models.AnalyticAccount, error) {
	if account, ok := r.s.accounts[name]; ok {
		cp := *account
		return &cp, nil
	}
	account := &models.AnalyticAccount{ID: uuid.New(), Name: name}
	r.s.accounts[name] = account
	cp := *account
	return &cp, nil
}

type fakeOutbox struct{ s *fakeStore }

func (r *fakeOutbox) Enqueue(ctx context.Context, msg *models.OutboxMessage) error {
	cp := *msg
	r.s.outbox = append(r.s.outbox, &cp)
	return nil
}

func (r *fakeOutbox) FindUnsent(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	var out []models.OutboxMessage
	for _, msg := range r.s.outbox {
		if !msg.Sent {
			out = append(out, *msg)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeOutbox) MarkSent(ctx context.Context, id uuid.UUID) error {
	for _, msg := range r.s.outbox {
		if msg.ID == id {
			now := time.Now()
			msg.Sent = true
			msg.SentAt = &now
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r *fakeOutbox) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	for _, msg := range r.s.outbox {
		if msg.ID == id {
			msg.Attempts++
			msg.LastError = cause
			return nil
		}
	}
	return repositories.ErrNotFound
}

// stubDirectory resolves reviewers by role from a fixed table.
type stubDirectory struct {
	byRole map[string]integrations.Actor
}

func (d *stubDirectory) ReviewerFor(ctx context.Context, docType models.DocType, targetState, role string) (*integrations.Actor, error) {
	actor, ok := d.byRole[role]
	if !ok {
		return nil, nil
	}
	return &actor, nil
}

// stubNotifier records task traffic. err, when set, fails every call so
// tests can assert best-effort behavior.
type stubNotifier struct {
	scheduled []string
	closed    []string
	closedAll []string
	err       error
}

func (n *stubNotifier) Schedule(ctx context.Context, reviewer integrations.Actor, docRef, summary string) error {
	if n.err != nil {
		return n.err
	}
	n.scheduled = append(n.scheduled, docRef)
	return nil
}

func (n *stubNotifier) Close(ctx context.Context, reviewerID uuid.UUID, docRef string) error {
	if n.err != nil {
		return n.err
	}
	n.closed = append(n.closed, docRef)
	return nil
}

func (n *stubNotifier) CloseAll(ctx context.Context, docRef string) error {
	if n.err != nil {
		return n.err
	}
	n.closedAll = append(n.closedAll, docRef)
	return nil
}

// mockPurchasing is a testify mock for the purchase order generator.
type mockPurchasing struct{ mock.Mock }

func (m *mockPurchasing) Generate(ctx context.Context, order *models.DeliveryOrder) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

type stubCostCenters struct{ store *fakeStore }

func (r *stubCostCenters) Resolve(ctx context.Context, descriptor string) (*models.AnalyticAccount, error) {
	return (&fakeAccounts{r.store}).GetOrCreateByName(ctx, descriptor)
}

// testEnv wires the workflows over the fake store with one actor per role.
type testEnv struct {
	store      *fakeStore
	bop        *BOPWorkflow
	do         *DOWorkflow
	notifier   *stubNotifier
	purchasing *mockPurchasing

	requester integrations.Actor
	opSpv     integrations.Actor
	cashier   integrations.Actor
	adh       integrations.Actor
	kacab     integrations.Actor
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:      newFakeStore(),
		notifier:   &stubNotifier{},
		purchasing: &mockPurchasing{},
		requester:  integrations.Actor{ID: uuid.New(), Role: "sales_admin", Name: "Requester"},
		opSpv:      integrations.Actor{ID: uuid.New(), Role: "operation_spv", Name: "Operation Supervisor"},
		cashier:    integrations.Actor{ID: uuid.New(), Role: "cashier", Name: "Cashier"},
		adh:        integrations.Actor{ID: uuid.New(), Role: "adh", Name: "Administration Head"},
		kacab:      integrations.Actor{ID: uuid.New(), Role: "kacab", Name: "Branch Head"},
	}

	directory := &stubDirectory{byRole: map[string]integrations.Actor{
		"operation_spv": env.opSpv,
		"cashier":       env.cashier,
		"adh":           env.adh,
		"kacab":         env.kacab,
	}}

	env.bop = NewBOPWorkflow(env.store, directory, env.notifier)
	env.do = NewDOWorkflow(
		env.store, env.bop, directory, env.notifier,
		&stubCostCenters{store: env.store}, env.purchasing, nil, nil,
	)
	return env
}

// seedTiers installs the standard tier chain for both document types.
func (env *testEnv) seedTiers() {
	add := func(docType models.DocType, state, role string) {
		env.store.tiers = append(env.store.tiers, &models.TierDefinition{
			ID:              uuid.New(),
			DocType:         docType,
			TargetState:     state,
			ReviewerRole:    role,
			CommentRequired: true,
			Active:          true,
		})
	}
	add(models.DocTypeDeliveryOrder, string(models.DOStateApprovedOpSpv), "operation_spv")
	add(models.DocTypeDeliveryOrder, string(models.DOStateApprovedCash), "cashier")
	add(models.DocTypeDeliveryOrder, string(models.DOStateApprovedADH), "adh")
	add(models.DocTypeDeliveryOrder, string(models.DOStateApprovedKacab), "kacab")
	add(models.DocTypeBOPLine, string(models.BOPStateApprovedCash), "cashier")
	add(models.DocTypeBOPLine, string(models.BOPStateApprovedADH), "adh")
	add(models.DocTypeBOPLine, string(models.BOPStateApprovedKacab), "kacab")
}

// seedVehicle adds a ready vehicle and returns its id.
func (env *testEnv) seedVehicle(ownership models.VehicleOwnership) uuid.UUID {
	id := uuid.New()
	env.store.vehicles[id] = &models.Vehicle{
		ID:           id,
		LicensePlate: fmt.Sprintf("DD %d XY", len(env.store.vehicles)+1000),
		Status:       models.VehicleReady,
		Ownership:    ownership,
	}
	return id
}

// seedDriver adds a ready driver and returns their id.
func (env *testEnv) seedDriver() uuid.UUID {
	id := uuid.New()
	env.store.drivers[id] = &models.Driver{ID: id, Name: "Driver", Status: models.DriverReady}
	return id
}

// createOrder opens a standard draft order with one sale line.
func (env *testEnv) createOrder(ctx context.Context, nominal int64, quota models.BopQuota, vehicleID, driverID *uuid.UUID) (*models.DeliveryOrder, error) {
	return env.do.CreateFromSaleLines(ctx, CreateOrderRequest{
		Name:              fmt.Sprintf("DO/%d", len(env.store.orders)+1),
		CompanyID:         uuid.New(),
		VehicleID:         vehicleID,
		DriverID:          driverID,
		Nominal:           decimal.NewFromInt(nominal),
		Quota:             quota,
		LoadingLocation:   "Makassar",
		UnloadingLocation: "Parepare",
		SaleLines: []SaleLineInput{
			{SaleOrderRef: "SO/001", ProductRef: "TRUCKING", Subtotal: decimal.NewFromInt(nominal)},
		},
	}, env.requester)
}
