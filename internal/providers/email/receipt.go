package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"

	invoicedomain "github.com/lotefact/lotefact/internal/invoice/domain"
	receiverdomain "github.com/lotefact/lotefact/internal/receiver/domain"
)

var ErrNoRecipient = errors.New("receipt_no_recipient")

var receiptTemplate = template.Must(template.New("receipt").Parse(`
<p>Hola {{.Name}},</p>
<p>Tu comprobante <strong>{{.Reference}}</strong> fue autorizado.</p>
<ul>
  <li>CAE: {{.CAE}}</li>
  <li>Fecha: {{.EmissionDate}}</li>
  <li>Total: {{.Total}}</li>
</ul>
`))

// ReceiptMailer sends the receipt email that the authorizer enqueues after
// a successful authorization.
type ReceiptMailer struct {
	log       *zap.Logger
	provider  Provider
	invoices  invoicedomain.Service
	receivers receiverdomain.Service
}

type ReceiptMailerParam struct {
	fx.In

	Log       *zap.Logger
	Provider  Provider
	Invoices  invoicedomain.Service
	Receivers receiverdomain.Service
}

func NewReceiptMailer(p ReceiptMailerParam) *ReceiptMailer {
	return &ReceiptMailer{
		log:       p.Log.Named("email.receipt"),
		provider:  p.Provider,
		invoices:  p.Invoices,
		receivers: p.Receivers,
	}
}

// receiptReference is the human-facing identifier of an authorized
// invoice, also used as a download filename.
func receiptReference(inv invoicedomain.Invoice) string {
	number := int64(0)
	if inv.Number != nil {
		number = *inv.Number
	}
	return slug.Make(fmt.Sprintf("comprobante-%d-%04d-%08d", inv.DocType, inv.PointOfSale, number))
}

// SendReceipt mails the authorized invoice to its receiver.
func (m *ReceiptMailer) SendReceipt(ctx context.Context, invoiceID snowflake.ID) error {
	inv, err := m.invoices.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != invoicedomain.StatusAuthorized || inv.ReceiverID == nil {
		return ErrNoRecipient
	}
	rcv, err := m.receivers.Get(ctx, *inv.ReceiverID)
	if err != nil {
		return err
	}
	if rcv.Email == "" {
		return ErrNoRecipient
	}

	ref := receiptReference(inv)
	var body bytes.Buffer
	if err := receiptTemplate.Execute(&body, map[string]any{
		"Name":         rcv.Name,
		"Reference":    ref,
		"CAE":          inv.CAE,
		"EmissionDate": time.Time(inv.EmissionDate).Format("2006-01-02"),
		"Total":        inv.Total.StringFixed(2),
	}); err != nil {
		return fmt.Errorf("receipt template: %w", err)
	}

	subject := "Comprobante " + ref
	if err := m.provider.Send(ctx, []string{rcv.Email}, subject, body.String()); err != nil {
		return err
	}
	m.log.Info("receipt sent", zap.Int64("invoice_id", int64(invoiceID)), zap.String("reference", ref))
	return nil
}
