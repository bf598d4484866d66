package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	arcadomain "github.com/lotefact/lotefact/internal/arca/domain"
	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
	"github.com/lotefact/lotefact/internal/clock"
	invoicedomain "github.com/lotefact/lotefact/internal/invoice/domain"
	issuerdomain "github.com/lotefact/lotefact/internal/issuer/domain"
	receiverdomain "github.com/lotefact/lotefact/internal/receiver/domain"
	workerdomain "github.com/lotefact/lotefact/internal/worker/domain"
)

type fakeInvoicing struct {
	mu        sync.Mutex
	last      int64
	authorize func(call int, req *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error)
	calls     int
	requests  []*arcadomain.AuthorizationRequest
	snapshot  arcadomain.InvoiceSnapshot
	queryErr  error
}

func (f *fakeInvoicing) LastAuthorized(ctx context.Context, creds arcadomain.Credentials, pos, docType int) (arcadomain.LastInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return arcadomain.LastInvoice{Number: f.last}, nil
}

func (f *fakeInvoicing) Authorize(ctx context.Context, creds arcadomain.Credentials, req *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	res, err := f.authorize(f.calls, req)
	if err == nil {
		f.last = req.Number
	}
	return res, err
}

func (f *fakeInvoicing) QueryInvoice(ctx context.Context, creds arcadomain.Credentials, pos, docType int, number int64) (arcadomain.InvoiceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return arcadomain.InvoiceSnapshot{}, f.queryErr
	}
	return f.snapshot, nil
}

type fakeIssuers struct {
	creds arcadomain.Credentials
}

func (f *fakeIssuers) Get(ctx context.Context, id snowflake.ID) (issuerdomain.Issuer, error) {
	return issuerdomain.Issuer{ID: id, TaxID: f.creds.TaxID}, nil
}

func (f *fakeIssuers) Credentials(ctx context.Context, id snowflake.ID) (arcadomain.Credentials, error) {
	return f.creds, nil
}

type fakeReceivers struct {
	receivers map[snowflake.ID]receiverdomain.Receiver
}

func (f *fakeReceivers) Get(ctx context.Context, id snowflake.ID) (receiverdomain.Receiver, error) {
	r, ok := f.receivers[id]
	if !ok {
		return receiverdomain.Receiver{}, errors.New("receiver_not_found")
	}
	return r, nil
}

func (f *fakeReceivers) Autofill(ctx context.Context, creds arcadomain.Credentials, id snowflake.ID) (receiverdomain.Receiver, error) {
	return f.Get(ctx, id)
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []workerdomain.Task
}

func (f *fakeQueue) Enqueue(ctx context.Context, kind workerdomain.TaskKind, payload any) (workerdomain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := workerdomain.Task{ID: snowflake.ID(len(f.tasks) + 1), Kind: kind}
	f.tasks = append(f.tasks, t)
	return t, nil
}

func (f *fakeQueue) Get(ctx context.Context, id snowflake.ID) (workerdomain.Task, error) {
	return workerdomain.Task{}, errors.New("not implemented")
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&batchdomain.Batch{},
		&batchdomain.PosSequence{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
	))
	return db
}

type fixture struct {
	db        *gorm.DB
	auth      *Authorizer
	invoicing *fakeInvoicing
	queue     *fakeQueue
	receivers *fakeReceivers
	issuerID  snowflake.ID
}

func newFixture(t *testing.T, invoicing *fakeInvoicing) *fixture {
	t.Helper()
	db := setupDB(t)
	queue := &fakeQueue{}
	receivers := &fakeReceivers{receivers: map[snowflake.ID]receiverdomain.Receiver{}}
	a := &Authorizer{
		db:        db,
		log:       zap.NewNop(),
		clock:     clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		invoicing: invoicing,
		issuers:   &fakeIssuers{creds: arcadomain.NewCredentials("20123456789", nil, nil, arcadomain.EnvironmentTesting)},
		receivers: receivers,
		queue:     queue,
		sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	}
	return &fixture{db: db, auth: a, invoicing: invoicing, queue: queue, receivers: receivers, issuerID: 7}
}

func (f *fixture) newBatch(t *testing.T, id snowflake.ID) batchdomain.Batch {
	t.Helper()
	b := batchdomain.Batch{ID: id, Name: "run", IssuerID: f.issuerID, Status: batchdomain.StatusPending}
	require.NoError(t, f.db.Create(&b).Error)
	return b
}

func (f *fixture) newInvoice(t *testing.T, id, batchID snowflake.ID, mutate func(*invoicedomain.Invoice)) invoicedomain.Invoice {
	t.Helper()
	inv := invoicedomain.Invoice{
		ID:           id,
		BatchID:      batchID,
		IssuerID:     f.issuerID,
		PointOfSale:  3,
		DocType:      arcadomain.DocFacturaB,
		Concept:      arcadomain.ConceptProducts,
		EmissionDate: datatypes.Date(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)),
		Net:          decimal.RequireFromString("1000.00"),
		Tax:          decimal.RequireFromString("210.00"),
		Total:        decimal.RequireFromString("1210.00"),
		Currency:     "PES",
		CurrencyRate: decimal.NewFromInt(1),
		Status:       invoicedomain.StatusPending,
	}
	rcvID := snowflake.ID(int64(id) + 1000)
	f.receivers.receivers[rcvID] = receiverdomain.Receiver{
		ID:              rcvID,
		DocType:         arcadomain.ReceiverDocDNI,
		DocNumber:       28111222,
		FiscalCondition: arcadomain.FiscalConsumidorFinal,
	}
	inv.ReceiverID = &rcvID
	if mutate != nil {
		mutate(&inv)
	}
	require.NoError(t, f.db.Create(&inv).Error)
	return inv
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return inv
}

func grantCAE(call int, req *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
	return arcadomain.CAEResult{
		CAE:        fmt.Sprintf("7123400000%05d", req.Number),
		CAEDueDate: time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
	}, nil
}

func TestRunAuthorizesPendingInvoicesInOrder(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: grantCAE}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, nil)
	f.newInvoice(t, 11, b.ID, nil)

	var progress []batchdomain.Progress
	sum, err := f.auth.Run(context.Background(), b.ID, func(p batchdomain.Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, batchdomain.Summary{Total: 2, OK: 2, Errors: 0}, sum)

	first := f.reload(t, 10)
	second := f.reload(t, 11)
	require.NotNil(t, first.Number)
	require.NotNil(t, second.Number)
	assert.Equal(t, int64(101), *first.Number)
	assert.Equal(t, int64(102), *second.Number)
	assert.Equal(t, invoicedomain.StatusAuthorized, first.Status)
	assert.NotEmpty(t, first.CAE)
	assert.NotEmpty(t, first.ArcaRequest)
	assert.NotEmpty(t, first.ArcaResponse)

	assert.Equal(t, []batchdomain.Progress{{Current: 1, Total: 2}, {Current: 2, Total: 2}}, progress)

	var reloaded batchdomain.Batch
	require.NoError(t, f.db.First(&reloaded, "id = ?", b.ID).Error)
	assert.Equal(t, batchdomain.StatusCompleted, reloaded.Status)
	assert.Equal(t, 2, reloaded.ProcessedCount)
	assert.Equal(t, 2, reloaded.OkCount)
}

func TestRunSequentialBatchesYieldContiguousNumbers(t *testing.T) {
	invoicing := &fakeInvoicing{last: 200, authorize: grantCAE}
	f := newFixture(t, invoicing)

	b1 := f.newBatch(t, 1)
	f.newInvoice(t, 10, b1.ID, nil)
	f.newInvoice(t, 11, b1.ID, nil)
	b2 := f.newBatch(t, 2)
	f.newInvoice(t, 20, b2.ID, nil)

	_, err := f.auth.Run(context.Background(), b1.ID, nil)
	require.NoError(t, err)
	_, err = f.auth.Run(context.Background(), b2.ID, nil)
	require.NoError(t, err)

	numbers := []int64{}
	for _, id := range []snowflake.ID{10, 11, 20} {
		inv := f.reload(t, id)
		require.NotNil(t, inv.Number)
		numbers = append(numbers, *inv.Number)
	}
	assert.Equal(t, []int64{201, 202, 203}, numbers)
}

func TestRunBusinessRejectionMarksInvoiceError(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: func(int, *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
		return arcadomain.CAEResult{}, arcadomain.NewServiceError(10048, "importe total invalido")
	}}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, nil)

	sum, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.Summary{Total: 1, OK: 0, Errors: 1}, sum)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusError, inv.Status)
	assert.Equal(t, arcadomain.FailureService, inv.ErrorCode)
	assert.Contains(t, inv.ErrorMessage, "importe total invalido")
	assert.NotEmpty(t, inv.ArcaResponse)

	var reloaded batchdomain.Batch
	require.NoError(t, f.db.First(&reloaded, "id = ?", b.ID).Error)
	assert.Equal(t, batchdomain.StatusCompleted, reloaded.Status)
}

func TestRunTicketRaceRetriesWholeCycleOnce(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100}
	invoicing.authorize = func(call int, req *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
		if call == 1 {
			return arcadomain.CAEResult{}, errors.New("el CEE ya posee un TA valido")
		}
		return grantCAE(call, req)
	}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, nil)

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusAuthorized, inv.Status)
	assert.Equal(t, 2, invoicing.calls)
}

func TestRunTicketRaceGivesUpAfterOneRetry(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: func(int, *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
		return arcadomain.CAEResult{}, errors.New("ya posee un TA valido")
	}}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, nil)

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusError, inv.Status)
	assert.Equal(t, 2, invoicing.calls)
}

func TestRunSequenceDriftAdvancesDatesAndRetries(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100}
	invoicing.snapshot = arcadomain.InvoiceSnapshot{
		Number:       100,
		EmissionDate: time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC),
	}
	invoicing.authorize = func(call int, req *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
		if call == 1 {
			return arcadomain.CAEResult{}, arcadomain.NewValidationError(10016, "consulte el metodo FECompUltimoAutorizado")
		}
		return grantCAE(call, req)
	}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, func(inv *invoicedomain.Invoice) {
		inv.Concept = arcadomain.ConceptServices
		from := datatypes.Date(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
		to := datatypes.Date(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))
		due := datatypes.Date(time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC))
		inv.ServiceFrom = &from
		inv.ServiceTo = &to
		inv.PaymentDue = &due
	})

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusAuthorized, inv.Status)
	assert.Equal(t, 2, invoicing.calls)

	target := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, target, time.Time(inv.EmissionDate).UTC())
	// Service dates before the new emission date move forward with it;
	// later ones stay put.
	assert.Equal(t, target, time.Time(*inv.ServiceFrom).UTC())
	assert.Equal(t, target, time.Time(*inv.ServiceTo).UTC())
	assert.Equal(t, time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC), time.Time(*inv.PaymentDue).UTC())

	// The retried submission carried the advanced date.
	lastReq := invoicing.requests[len(invoicing.requests)-1]
	assert.Equal(t, "20250515", arcadomain.WireDate(lastReq.EmissionDate))
}

func TestRunToleratesExistingSequenceRow(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: grantCAE}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, nil)

	// Another worker already created the sequence row for this scope.
	seq := batchdomain.PosSequence{IssuerID: f.issuerID, PointOfSale: 3, DocType: arcadomain.DocFacturaB}
	require.NoError(t, f.db.Create(&seq).Error)

	sum, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.Summary{Total: 1, OK: 1, Errors: 0}, sum)
	assert.Equal(t, invoicedomain.StatusAuthorized, f.reload(t, 10).Status)
}

func TestRunSequenceDriftWithNoPriorInvoiceKeepsDates(t *testing.T) {
	invoicing := &fakeInvoicing{last: 0}
	invoicing.queryErr = fmt.Errorf("%w: sin registros", arcadomain.ErrNoLastInvoice)
	invoicing.authorize = func(call int, req *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
		if call == 1 {
			return arcadomain.CAEResult{}, arcadomain.NewValidationError(10016, "consulte el metodo FECompUltimoAutorizado")
		}
		return grantCAE(call, req)
	}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, nil)

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusAuthorized, inv.Status)
	assert.Equal(t, 2, invoicing.calls)
	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), time.Time(inv.EmissionDate).UTC())
}

func TestRunExemptDocTypePersistsNormalizedAmounts(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: grantCAE}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, func(inv *invoicedomain.Invoice) {
		inv.DocType = arcadomain.DocFacturaC
		inv.Net = decimal.RequireFromString("1000.00")
		inv.Tax = decimal.RequireFromString("210.00")
		inv.Total = decimal.RequireFromString("1210.00")
	})

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusAuthorized, inv.Status)
	assert.True(t, inv.Tax.IsZero())
	assert.True(t, inv.Total.Equal(decimal.RequireFromString("1000.00")))
	assert.True(t, inv.Net.Equal(decimal.RequireFromString("1000.00")))
}

func TestRunSequenceDriftGivesUpAfterOneRetry(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: func(int, *arcadomain.AuthorizationRequest) (arcadomain.CAEResult, error) {
		return arcadomain.CAEResult{}, arcadomain.NewValidationError(10016, "no se corresponde con el proximo a autorizar")
	}}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	f.newInvoice(t, 10, b.ID, nil)

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusError, inv.Status)
	assert.Equal(t, arcadomain.FailureValidation, inv.ErrorCode)
	assert.Equal(t, 2, invoicing.calls)
}

func TestRunValidationFailureIsLocal(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: grantCAE}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	// A credit note without an associated document fails the builder.
	f.newInvoice(t, 10, b.ID, func(inv *invoicedomain.Invoice) {
		inv.DocType = arcadomain.DocNotaCreditoB
	})

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	inv := f.reload(t, 10)
	assert.Equal(t, invoicedomain.StatusError, inv.Status)
	assert.Equal(t, arcadomain.FailureProcessing, inv.ErrorCode)
	assert.Contains(t, inv.ErrorMessage, "associated_doc")
	assert.Equal(t, 0, invoicing.calls)
}

func TestRunEnqueuesReceiptEmail(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: grantCAE}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	inv := f.newInvoice(t, 10, b.ID, nil)
	rcv := f.receivers.receivers[*inv.ReceiverID]
	rcv.Email = "cliente@example.com"
	f.receivers.receivers[*inv.ReceiverID] = rcv

	_, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, workerdomain.TaskInvoiceEmail, f.queue.tasks[0].Kind)
}

func TestRunCompletedBatchIsTerminal(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: grantCAE}
	f := newFixture(t, invoicing)
	b := f.newBatch(t, 1)
	require.NoError(t, f.db.Model(&batchdomain.Batch{}).Where("id = ?", b.ID).
		Updates(map[string]any{"status": batchdomain.StatusCompleted, "total_count": 3, "ok_count": 3}).Error)

	sum, err := f.auth.Run(context.Background(), b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.Summary{Total: 3, OK: 3}, sum)
	assert.Equal(t, 0, invoicing.calls)
}

func TestRunUnknownBatch(t *testing.T) {
	invoicing := &fakeInvoicing{last: 100, authorize: grantCAE}
	f := newFixture(t, invoicing)

	_, err := f.auth.Run(context.Background(), 999, nil)
	require.ErrorIs(t, err, ErrBatchNotFound)
}
