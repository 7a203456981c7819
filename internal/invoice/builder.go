// Package invoice turns CRM deals into invoice payloads and computes their
// VAT-inclusive totals.
package invoice

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/crm"
	"github.com/Lllllllleong/invoiceflow/internal/models"
)

const (
	DefaultProformaTerms = "Advance payment of 50% before Delivery"
	TaxTerms             = "Payment on Delivery"
	DefaultVATPct        = 5
	DefaultUOM           = "Pcs"
	DateLayout           = "January 02, 2006"
)

var (
	ErrInvalidKey   = errors.New("candidate id is not a valid deal number")
	ErrInvalidPrice = errors.New("unparseable product price")
	ErrNoItems      = errors.New("invoice has no line items")
	ErrNoRecipients = errors.New("invoice has no recipient email")
)

var firstInt = regexp.MustCompile(`\d+`)

// Builder assembles invoice payloads for one pipeline.
type Builder struct {
	Now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// BusinessKey is the deal number a candidate's documents are stored under.
func BusinessKey(candidate models.CandidateRecord) string {
	return strings.TrimSpace(candidate.ID)
}

// Number formats the invoice number for a deal, e.g. 00PI25-00012345.
func Number(prefix string, width int, dealNumber string) (string, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(dealNumber), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, dealNumber)
	}
	return fmt.Sprintf("%s%0*d", prefix, width, n), nil
}

// Build derives the payload from the candidate's own fields and its related
// contact and products.
func (b *Builder) Build(p models.Pipeline, candidate models.CandidateRecord, related *models.RelatedEntities) (models.InvoicePayload, error) {
	if related == nil || related.Contact == nil || strings.TrimSpace(related.Contact.Email) == "" {
		return models.InvoicePayload{}, ErrNoRecipients
	}
	if len(related.Products) == 0 {
		return models.InvoicePayload{}, ErrNoItems
	}

	key := BusinessKey(candidate)
	number, err := Number(p.NumberPrefix, p.NumberWidth, key)
	if err != nil {
		return models.InvoicePayload{}, err
	}

	contact := related.Contact
	name := contact.Name
	if name == "" {
		name = candidate.Name
	}
	if name == "" {
		name = "Customer"
	}

	terms := models.Terms{PaymentTerms: TaxTerms, AmountPaid: "0"}
	if p.Kind == models.KindProforma {
		terms = proformaTerms(candidate.Fields)
	}

	discount := ParseDiscount(candidate.Fields[crm.FieldDiscount])
	items := make([]models.LineItem, 0, len(related.Products))
	for _, product := range related.Products {
		item, err := lineItem(product, discount)
		if err != nil {
			return models.InvoicePayload{}, err
		}
		items = append(items, item)
	}

	return models.InvoicePayload{
		Kind: p.Kind,
		Invoice: models.InvoiceInfo{
			Number:        number,
			DateOfIssuing: b.Now().Format(DateLayout),
			DealNumber:    key,
		},
		IssuedTo: models.Party{
			Name:    name,
			Address: candidate.Fields[crm.FieldDeliveryAddress],
			TRN:     contact.TRN,
			Email:   strings.TrimSpace(contact.Email),
		},
		Terms:           terms,
		Items:           items,
		RecipientEmails: []string{strings.TrimSpace(contact.Email)},
	}, nil
}

func proformaTerms(fields map[string]string) models.Terms {
	terms := models.Terms{
		PaymentTerms: fields[crm.FieldPaymentTerms],
		AmountPaid:   "0",
	}
	if terms.PaymentTerms == "" {
		terms.PaymentTerms = DefaultProformaTerms
	}
	deposit := strings.TrimSpace(fields[crm.FieldDepositAmount])
	if strings.Contains(strings.ToLower(fields[crm.FieldPayment]), "deposit") && deposit != "" {
		terms.AmountPaid = deposit
	}
	return terms
}

func lineItem(product models.Product, discountPct float64) (models.LineItem, error) {
	price, err := ParsePrice(product.Price)
	if err != nil {
		return models.LineItem{}, fmt.Errorf("product %s: %w", product.ID, err)
	}

	description := product.Name
	if description == "" {
		description = "Product"
	}
	sub := product.SKU
	if product.Details != "" {
		if sub != "" {
			sub = sub + ", " + product.Details
		} else {
			sub = product.Details
		}
	}

	uom := strings.TrimSpace(product.Unit)
	if uom == "" || strings.EqualFold(uom, "N/A") {
		uom = DefaultUOM
	}
	quantity := product.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	return models.LineItem{
		Description:    description,
		SubDescription: sub,
		Quantity:       quantity,
		UOM:            uom,
		PriceInclVAT:   price,
		DiscountPct:    discountPct,
		VATPct:         DefaultVATPct,
	}, nil
}

// ParsePrice reads a price such as "1,050.00". An empty price is zero.
func ParsePrice(raw string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	return v, nil
}

// ParseDiscount reads the percentage out of a discount field such as
// "10% discount". "NO DISCOUNT" and unreadable values are zero.
func ParseDiscount(raw string) float64 {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || strings.Contains(s, "NO DISCOUNT") {
		return 0
	}
	m := firstInt.FindString(s)
	if m == "" {
		return 0
	}
	v, _ := strconv.Atoi(m)
	return float64(v)
}

// Validate checks a payload submitted directly through the issue API.
func Validate(p models.InvoicePayload) error {
	if strings.TrimSpace(p.Invoice.DealNumber) == "" {
		return fmt.Errorf("invoice.deal_number is required")
	}
	return ValidateContent(p)
}

// ValidateContent is Validate without the deal number, for documents that
// are delivered but never stored.
func ValidateContent(p models.InvoicePayload) error {
	if strings.TrimSpace(p.Invoice.Number) == "" {
		return fmt.Errorf("invoice.number is required")
	}
	if len(p.Items) == 0 {
		return ErrNoItems
	}
	for i, item := range p.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("items[%d].quantity must be positive", i)
		}
		if item.PriceInclVAT < 0 {
			return fmt.Errorf("items[%d].price_incl_vat_aed must not be negative", i)
		}
		if item.DiscountPct < 0 || item.DiscountPct > 100 {
			return fmt.Errorf("items[%d].discount_pct must be between 0 and 100", i)
		}
	}
	if !p.HasRecipients() {
		return ErrNoRecipients
	}
	return nil
}
