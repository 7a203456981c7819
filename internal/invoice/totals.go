package invoice

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

var hundred = decimal.NewFromInt(100)

// LineTotals are the amounts of one line item. Prices include VAT, so the
// VAT share is back-calculated from the discounted amount.
type LineTotals struct {
	Gross    decimal.Decimal
	Discount decimal.Decimal
	InclVAT  decimal.Decimal
	ExclVAT  decimal.Decimal
	VAT      decimal.Decimal
}

type Totals struct {
	Lines      []LineTotals
	Discount   decimal.Decimal
	ExclVAT    decimal.Decimal
	VAT        decimal.Decimal
	InclVAT    decimal.Decimal
	AmountPaid decimal.Decimal
	BalanceDue decimal.Decimal
}

// Line computes the totals of a single item.
func Line(item models.LineItem) LineTotals {
	price := decimal.NewFromFloat(item.PriceInclVAT)
	qty := decimal.NewFromFloat(item.Quantity)
	gross := price.Mul(qty)
	discount := gross.Mul(decimal.NewFromFloat(item.DiscountPct)).Div(hundred)
	incl := gross.Sub(discount)
	excl := incl.Div(decimal.NewFromInt(1).Add(decimal.NewFromFloat(item.VATPct).Div(hundred)))

	return LineTotals{
		Gross:    gross,
		Discount: discount,
		InclVAT:  incl,
		ExclVAT:  excl,
		VAT:      incl.Sub(excl),
	}
}

// Compute sums all lines of the payload. Amounts are kept unrounded; callers
// format them with StringFixed(2).
func Compute(p models.InvoicePayload) Totals {
	t := Totals{
		Discount: decimal.Zero,
		ExclVAT:  decimal.Zero,
		VAT:      decimal.Zero,
		InclVAT:  decimal.Zero,
	}
	for _, item := range p.Items {
		l := Line(item)
		t.Lines = append(t.Lines, l)
		t.Discount = t.Discount.Add(l.Discount)
		t.ExclVAT = t.ExclVAT.Add(l.ExclVAT)
		t.VAT = t.VAT.Add(l.VAT)
		t.InclVAT = t.InclVAT.Add(l.InclVAT)
	}

	paid, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(p.Terms.AmountPaid), ",", ""))
	if err != nil {
		paid = decimal.Zero
	}
	t.AmountPaid = paid
	t.BalanceDue = t.InclVAT.Sub(paid)
	return t
}
