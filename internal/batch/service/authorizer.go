package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	arcadomain "github.com/lotefact/lotefact/internal/arca/domain"
	"github.com/lotefact/lotefact/internal/arca/request"
	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
	"github.com/lotefact/lotefact/internal/clock"
	invoicedomain "github.com/lotefact/lotefact/internal/invoice/domain"
	issuerdomain "github.com/lotefact/lotefact/internal/issuer/domain"
	"github.com/lotefact/lotefact/internal/metrics"
	receiverdomain "github.com/lotefact/lotefact/internal/receiver/domain"
	"github.com/lotefact/lotefact/internal/tax"
	workerdomain "github.com/lotefact/lotefact/internal/worker/domain"
	"github.com/lotefact/lotefact/pkg/db"
)

const (
	raceRetryPause  = 5 * time.Second
	driftRetryPause = time.Second
)

var (
	ErrBatchNotFound  = errors.New("batch_not_found")
	errIssuerMismatch = errors.New("invoice issuer differs from batch issuer")
)

type AuthorizerParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Metrics   *metrics.Pipeline
	Invoicing arcadomain.InvoicingClient
	Issuers   issuerdomain.Service
	Receivers receiverdomain.Service
	Queue     workerdomain.Queue
}

// Authorizer processes a batch invoice by invoice, serializing access to
// each issuer's numbering sequence through a row lock held for the whole
// read-then-submit cycle.
type Authorizer struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	metrics   *metrics.Pipeline
	invoicing arcadomain.InvoicingClient
	issuers   issuerdomain.Service
	receivers receiverdomain.Service
	queue     workerdomain.Queue

	sleep func(ctx context.Context, d time.Duration) error
}

func NewAuthorizer(p AuthorizerParam) batchdomain.Authorizer {
	return &Authorizer{
		db:        p.DB,
		log:       p.Log.Named("batch.authorizer"),
		clock:     p.Clock,
		metrics:   p.Metrics,
		invoicing: p.Invoicing,
		issuers:   p.Issuers,
		receivers: p.Receivers,
		queue:     p.Queue,
		sleep:     clock.Sleep,
	}
}

// Run processes every pending invoice in the batch in ascending
// (point of sale, document type, emission date, id) order. Per-invoice
// failures become invoice state; only unexpected failures mark the batch
// as errored and propagate to the work queue.
func (a *Authorizer) Run(ctx context.Context, batchID snowflake.ID, report func(batchdomain.Progress)) (batchdomain.Summary, error) {
	var batch batchdomain.Batch
	err := a.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return batchdomain.Summary{}, ErrBatchNotFound
	}
	if err != nil {
		return batchdomain.Summary{}, err
	}
	if batch.Status == batchdomain.StatusCompleted {
		return batchdomain.Summary{Total: batch.TotalCount, OK: batch.OkCount, Errors: batch.ErrorCount}, nil
	}

	if err := a.db.WithContext(ctx).Model(&batchdomain.Batch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]any{"status": batchdomain.StatusProcessing, "processed_count": 0}).Error; err != nil {
		return batchdomain.Summary{}, err
	}

	var invoices []invoicedomain.Invoice
	if err := a.db.WithContext(ctx).Preload("Items").
		Where("batch_id = ? AND status = ?", batch.ID, invoicedomain.StatusPending).
		Order("point_of_sale, doc_type, emission_date, id").
		Find(&invoices).Error; err != nil {
		a.failBatch(ctx, batch.ID, err)
		return batchdomain.Summary{}, err
	}

	// One authenticated session per issuer serves the whole run; the
	// ticket cache keeps it alive across invoices.
	creds, err := a.issuers.Credentials(ctx, batch.IssuerID)
	if err != nil {
		a.failBatch(ctx, batch.ID, err)
		return batchdomain.Summary{}, err
	}

	total := len(invoices)
	for i := range invoices {
		if err := a.processOne(ctx, creds, batch.IssuerID, &invoices[i]); err != nil {
			a.failBatch(ctx, batch.ID, err)
			return batchdomain.Summary{}, err
		}
		if err := a.db.WithContext(ctx).Model(&batchdomain.Batch{}).
			Where("id = ?", batch.ID).
			UpdateColumn("processed_count", gorm.Expr("processed_count + 1")).Error; err != nil {
			a.failBatch(ctx, batch.ID, err)
			return batchdomain.Summary{}, err
		}
		if report != nil {
			report(batchdomain.Progress{Current: i + 1, Total: total})
		}
	}

	return a.complete(ctx, batch.ID)
}

// complete recomputes the aggregate counts from the invoices table rather
// than trusting in-memory counters.
func (a *Authorizer) complete(ctx context.Context, batchID snowflake.ID) (batchdomain.Summary, error) {
	var sum batchdomain.Summary
	row := a.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Select(
			"count(*) as total",
			"coalesce(sum(case when status = 'authorized' then 1 else 0 end), 0) as ok",
			"coalesce(sum(case when status = 'error' then 1 else 0 end), 0) as errors",
		).
		Where("batch_id = ?", batchID).Row()
	if err := row.Scan(&sum.Total, &sum.OK, &sum.Errors); err != nil {
		return batchdomain.Summary{}, err
	}

	if err := a.db.WithContext(ctx).Model(&batchdomain.Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":      batchdomain.StatusCompleted,
			"total_count": sum.Total,
			"ok_count":    sum.OK,
			"error_count": sum.Errors,
		}).Error; err != nil {
		return batchdomain.Summary{}, err
	}
	return sum, nil
}

func (a *Authorizer) failBatch(ctx context.Context, batchID snowflake.ID, cause error) {
	a.log.Error("batch failed", zap.Int64("batch_id", int64(batchID)), zap.Error(cause))
	if err := a.db.WithContext(ctx).Model(&batchdomain.Batch{}).
		Where("id = ?", batchID).
		Update("status", batchdomain.StatusError).Error; err != nil {
		a.log.Error("batch status update failed", zap.Int64("batch_id", int64(batchID)), zap.Error(err))
	}
}

// processOne authorizes a single invoice under the sequence row lock. It
// returns an error only when persistence itself fails.
func (a *Authorizer) processOne(ctx context.Context, creds arcadomain.Credentials, issuerID snowflake.ID, inv *invoicedomain.Invoice) error {
	if inv.IssuerID != issuerID {
		a.setError(inv, arcadomain.FailureProcessing, errIssuerMismatch.Error())
		return a.persist(ctx, a.db, inv)
	}

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := a.lockSequence(tx, issuerID, inv.PointOfSale, inv.DocType); err != nil {
			return err
		}
		a.authorize(ctx, creds, inv)
		return a.persist(ctx, tx, inv)
	})
	if err != nil {
		return err
	}

	if inv.Status == invoicedomain.StatusAuthorized {
		a.enqueueReceiptEmail(ctx, inv)
	}
	return nil
}

// lockSequence takes the per-(issuer, pos, docType) row lock. The row is
// created on first use; a concurrent worker may win that insert, which is
// fine as long as the row exists. SQLite runs single-writer and skips the
// explicit lock clause.
func (a *Authorizer) lockSequence(tx *gorm.DB, issuerID snowflake.ID, pointOfSale, docType int) error {
	seq := batchdomain.PosSequence{IssuerID: issuerID, PointOfSale: pointOfSale, DocType: docType}
	if err := tx.Create(&seq).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return err
	}

	q := tx.Where("issuer_id = ? AND point_of_sale = ? AND doc_type = ?", issuerID, pointOfSale, docType)
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var locked batchdomain.PosSequence
	return q.Take(&locked).Error
}

// authorize runs the submit-with-new-number cycle with its two retry
// lanes: a ticket race retries the whole cycle once after 5s, a sequence
// drift resynchronizes dates and retries once after 1s. The outcome lands
// on the invoice.
func (a *Authorizer) authorize(ctx context.Context, creds arcadomain.Credentials, inv *invoicedomain.Invoice) {
	raceRetried, driftRetried := false, false

	for {
		last, err := a.invoicing.LastAuthorized(ctx, creds, inv.PointOfSale, inv.DocType)
		if err != nil {
			a.classifyError(inv, err)
			return
		}
		number := last.Number + 1

		rcv, rcvErr := a.resolveReceiver(ctx, creds, inv)
		if rcvErr != nil {
			a.classifyError(inv, rcvErr)
			return
		}

		req, err := request.Build(a.buildInput(inv, rcv, number))
		if err != nil {
			a.classifyError(inv, err)
			return
		}
		if raw, merr := json.Marshal(req); merr == nil {
			inv.ArcaRequest = datatypes.JSON(raw)
		}

		start := a.clock.Now()
		result, err := a.invoicing.Authorize(ctx, creds, req)
		a.metrics.ObserveSubmit(a.clock.Now().Sub(start))

		if err == nil {
			a.setAuthorized(inv, number, result)
			return
		}

		switch {
		case arcadomain.IsTicketRace(err) && !raceRetried:
			raceRetried = true
			a.log.Warn("ticket race during submit, retrying cycle",
				zap.Int64("invoice_id", int64(inv.ID)), zap.Error(err))
			if serr := a.sleep(ctx, raceRetryPause); serr != nil {
				a.classifyError(inv, serr)
				return
			}

		case arcadomain.IsSequenceDrift(err) && !driftRetried:
			driftRetried = true
			a.metrics.IncSequenceRetry()
			a.log.Warn("sequence drift, resynchronizing dates",
				zap.Int64("invoice_id", int64(inv.ID)),
				zap.Int64("last_number", last.Number), zap.Error(err))
			a.resyncDates(ctx, creds, inv, last.Number)
			if serr := a.sleep(ctx, driftRetryPause); serr != nil {
				a.classifyError(inv, serr)
				return
			}

		default:
			a.classifyError(inv, err)
			return
		}
	}
}

// resolveReceiver autofills the receiver's fiscal data best effort. A nil
// ReceiverID means an anonymous final consumer.
func (a *Authorizer) resolveReceiver(ctx context.Context, creds arcadomain.Credentials, inv *invoicedomain.Invoice) (*receiverdomain.Receiver, error) {
	if inv.ReceiverID == nil {
		return nil, nil
	}
	rcv, err := a.receivers.Autofill(ctx, creds, *inv.ReceiverID)
	if err != nil {
		return nil, err
	}
	return &rcv, nil
}

func (a *Authorizer) buildInput(inv *invoicedomain.Invoice, rcv *receiverdomain.Receiver, number int64) request.Invoice {
	in := request.Invoice{
		DocType:      inv.DocType,
		PointOfSale:  inv.PointOfSale,
		Number:       number,
		Concept:      inv.Concept,
		EmissionDate: time.Time(inv.EmissionDate),

		ReceiverDocType: arcadomain.ReceiverDocFinal,
		FiscalCondition: arcadomain.FiscalConsumidorFinal,

		Net:        inv.Net,
		Tax:        inv.Tax,
		Total:      inv.Total,
		Exempt:     inv.Exempt,
		NonTaxable: inv.NonTaxable,
		OtherTaxes: inv.OtherTaxes,

		Currency:     inv.Currency,
		CurrencyRate: inv.CurrencyRate,
	}
	if rcv != nil {
		in.ReceiverDocType = rcv.DocType
		in.ReceiverDocNumber = rcv.DocNumber
		in.FiscalCondition = rcv.FiscalCondition
	}
	if inv.ServiceFrom != nil {
		in.ServiceFrom = time.Time(*inv.ServiceFrom)
	}
	if inv.ServiceTo != nil {
		in.ServiceTo = time.Time(*inv.ServiceTo)
	}
	if inv.PaymentDue != nil {
		in.PaymentDue = time.Time(*inv.PaymentDue)
	}
	if inv.AssocDocType != nil && inv.AssocPointOfSale != nil && inv.AssocNumber != nil {
		in.Associated = &arcadomain.AssociatedDoc{
			DocType:     *inv.AssocDocType,
			PointOfSale: *inv.AssocPointOfSale,
			Number:      *inv.AssocNumber,
		}
	}
	for _, it := range inv.Items {
		in.Items = append(in.Items, tax.Item{RateID: it.VATRateID, Subtotal: it.Subtotal})
	}
	return in
}

// resyncDates queries the last authorized invoice and advances this
// invoice's emission and service-period dates forward to match. The
// authority enforces monotonic dates as well as numbers; dates never move
// backward.
func (a *Authorizer) resyncDates(ctx context.Context, creds arcadomain.Credentials, inv *invoicedomain.Invoice, lastNumber int64) {
	snapshot, err := a.invoicing.QueryInvoice(ctx, creds, inv.PointOfSale, inv.DocType, lastNumber)
	if errors.Is(err, arcadomain.ErrNoLastInvoice) {
		// Nothing authorized yet on this sequence, no dates to follow.
		return
	}
	if err != nil {
		a.log.Warn("last authorized lookup failed during drift recovery",
			zap.Int64("invoice_id", int64(inv.ID)), zap.Error(err))
		return
	}
	if snapshot.EmissionDate.IsZero() || !snapshot.EmissionDate.After(time.Time(inv.EmissionDate)) {
		return
	}

	target := snapshot.EmissionDate
	inv.EmissionDate = datatypes.Date(target)
	advance := func(d *datatypes.Date) *datatypes.Date {
		if d != nil && time.Time(*d).Before(target) {
			nd := datatypes.Date(target)
			return &nd
		}
		return d
	}
	inv.ServiceFrom = advance(inv.ServiceFrom)
	inv.ServiceTo = advance(inv.ServiceTo)
	inv.PaymentDue = advance(inv.PaymentDue)
}

func (a *Authorizer) setAuthorized(inv *invoicedomain.Invoice, number int64, result arcadomain.CAEResult) {
	inv.Status = invoicedomain.StatusAuthorized
	inv.Number = &number
	// The row keeps the amounts the authority actually granted: for
	// exempt document types that means the VAT folded away.
	norm := tax.NormalizeExempt(inv.DocType, tax.Amounts{Net: inv.Net, Tax: inv.Tax, Total: inv.Total})
	inv.Net, inv.Tax, inv.Total = norm.Net, norm.Tax, norm.Total
	inv.CAE = result.CAE
	if !result.CAEDueDate.IsZero() {
		due := datatypes.Date(result.CAEDueDate)
		inv.CAEDueDate = &due
	}
	inv.ErrorCode = ""
	inv.ErrorMessage = ""
	if raw, err := json.Marshal(result); err == nil {
		inv.ArcaResponse = datatypes.JSON(raw)
	}
	a.metrics.IncAuthorized()
}

func (a *Authorizer) classifyError(inv *invoicedomain.Invoice, err error) {
	a.setError(inv, arcadomain.Categorize(err), err.Error())
	var se *arcadomain.ServiceError
	if errors.As(err, &se) {
		if raw, merr := json.Marshal(se); merr == nil {
			inv.ArcaResponse = datatypes.JSON(raw)
		}
	}
}

func (a *Authorizer) setError(inv *invoicedomain.Invoice, code, message string) {
	inv.Status = invoicedomain.StatusError
	inv.ErrorCode = code
	inv.ErrorMessage = message
	a.metrics.IncFailed(code)
}

func (a *Authorizer) persist(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice) error {
	return tx.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: false}).
		Omit("Items").
		Save(inv).Error
}

func (a *Authorizer) enqueueReceiptEmail(ctx context.Context, inv *invoicedomain.Invoice) {
	if inv.ReceiverID == nil {
		return
	}
	rcv, err := a.receivers.Get(ctx, *inv.ReceiverID)
	if err != nil || rcv.Email == "" {
		return
	}
	if _, err := a.queue.Enqueue(ctx, workerdomain.TaskInvoiceEmail, workerdomain.InvoiceEmailPayload{InvoiceID: inv.ID}); err != nil {
		a.log.Warn("receipt email enqueue failed", zap.Int64("invoice_id", int64(inv.ID)), zap.Error(err))
	}
}
