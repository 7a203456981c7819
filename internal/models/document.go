package models

import (
	"strings"
	"time"
)

// DocumentKind identifies which billing document a pipeline produces.
type DocumentKind string

const (
	KindProforma DocumentKind = "proforma"
	KindTax      DocumentKind = "tax"
)

// Title is the heading printed on the rendered document.
func (k DocumentKind) Title() string {
	switch k {
	case KindTax:
		return "TAX INVOICE"
	default:
		return "PROFORMA INVOICE"
	}
}

// DocumentRecord is the persisted artifact for one business key. At most one
// record exists per key; CreatedAt is written once and UpdatedAt on every write.
type DocumentRecord struct {
	ID          string         `firestore:"-" bson:"_id" json:"id"`
	BusinessKey string         `firestore:"businessKey" bson:"business_key" json:"businessKey"`
	Payload     InvoicePayload `firestore:"payload" bson:"payload" json:"payload"`
	CreatedAt   time.Time      `firestore:"createdAt" bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `firestore:"updatedAt" bson:"updated_at" json:"updatedAt"`
}

// InvoicePayload is the canonical invoice data rendered into a PDF.
type InvoicePayload struct {
	Kind            DocumentKind `firestore:"kind" bson:"kind" json:"kind,omitempty"`
	Invoice         InvoiceInfo  `firestore:"invoice" bson:"invoice" json:"invoice"`
	IssuedTo        Party        `firestore:"issuedTo" bson:"issued_to" json:"issued_to"`
	Terms           Terms        `firestore:"terms" bson:"terms" json:"terms"`
	Items           []LineItem   `firestore:"items" bson:"items" json:"items"`
	RecipientEmails []string     `firestore:"recipientEmails" bson:"recipient_emails" json:"recipient_emails"`
}

type InvoiceInfo struct {
	Number        string `firestore:"number" bson:"number" json:"number"`
	DateOfIssuing string `firestore:"dateOfIssuing" bson:"date_of_issuing" json:"date_of_issuing"`
	DealNumber    string `firestore:"dealNumber" bson:"deal_number" json:"deal_number"`
}

// Party is the customer an invoice is issued to.
type Party struct {
	Name    string `firestore:"name" bson:"name" json:"name"`
	Address string `firestore:"address" bson:"address" json:"address"`
	TRN     string `firestore:"trn,omitempty" bson:"trn,omitempty" json:"trn,omitempty"`
	Email   string `firestore:"email" bson:"email" json:"email"`
}

type Terms struct {
	PaymentTerms string `firestore:"paymentTerms" bson:"payment_terms" json:"payment_terms"`
	AmountPaid   string `firestore:"amountPaid" bson:"amount_paid" json:"amount_paid"`
}

// LineItem prices include VAT.
type LineItem struct {
	Description    string  `firestore:"description" bson:"description" json:"description"`
	SubDescription string  `firestore:"subDescription,omitempty" bson:"sub_description,omitempty" json:"sub_description,omitempty"`
	Quantity       float64 `firestore:"quantity" bson:"quantity" json:"quantity"`
	UOM            string  `firestore:"uom" bson:"uom" json:"uom"`
	PriceInclVAT   float64 `firestore:"priceInclVat" bson:"price_incl_vat_aed" json:"price_incl_vat_aed"`
	DiscountPct    float64 `firestore:"discountPct" bson:"discount_pct" json:"discount_pct"`
	VATPct         float64 `firestore:"vatPct" bson:"vat_pct" json:"vat_pct"`
}

// HasRecipients reports whether the payload names at least one non-empty address.
func (p InvoicePayload) HasRecipients() bool {
	for _, r := range p.RecipientEmails {
		if strings.TrimSpace(r) != "" {
			return true
		}
	}
	return false
}
