package render

import (
	"fmt"
	"strconv"

	"github.com/Lllllllleong/invoiceflow/internal/invoice"
	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// pdfcpu create description, see `pdfcpu create` JSON input.
type description struct {
	Paper      string          `json:"paper"`
	Origin     string          `json:"origin"`
	ContentBox bool            `json:"contentBox"`
	Fonts      map[string]font `json:"fonts,omitempty"`
	Pages      map[string]page `json:"pages"`
}

type page struct {
	Content content `json:"content"`
}

type content struct {
	Text []textBox `json:"text"`
}

type textBox struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  font       `json:"font"`
}

type font struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

const (
	marginX      = 40.0
	lineHeight   = 16.0
	firstPageTop = 330.0
	nextPageTop  = 80.0
	pageBottom   = 760.0
)

var (
	titleFont = font{Name: "Helvetica-Bold", Size: 18}
	boldFont  = font{Name: "Helvetica-Bold", Size: 10}
	bodyFont  = font{Name: "Helvetica", Size: 10}
)

// Columns of the items table.
var columns = []struct {
	header string
	x      float64
}{
	{"#", marginX},
	{"Description", marginX + 20},
	{"Qty", marginX + 230},
	{"UOM", marginX + 265},
	{"Price incl. VAT", marginX + 300},
	{"Disc. %", marginX + 380},
	{"VAT", marginX + 420},
	{"Amount (AED)", marginX + 465},
}

type pageWriter struct {
	pages map[string]page
	n     int
	y     float64
}

func (w *pageWriter) text(x float64, f font, value string) {
	key := strconv.Itoa(w.n)
	p := w.pages[key]
	p.Content.Text = append(p.Content.Text, textBox{Value: value, Pos: [2]float64{x, w.y}, Font: f})
	w.pages[key] = p
}

func (w *pageWriter) newPage() {
	w.n++
	w.pages[strconv.Itoa(w.n)] = page{}
	w.y = nextPageTop
}

func (w *pageWriter) line() {
	w.y += lineHeight
}

// Layout places the payload on A4 pages. Item rows flow onto further pages
// as needed; the totals block always follows the last row.
func Layout(p models.InvoicePayload) description {
	totals := invoice.Compute(p)
	w := &pageWriter{pages: map[string]page{"1": {}}, n: 1, y: 50}

	w.text(marginX, titleFont, p.Kind.Title())
	w.y = 90
	w.text(marginX, boldFont, "Invoice No:")
	w.text(marginX+90, bodyFont, p.Invoice.Number)
	w.line()
	w.text(marginX, boldFont, "Date:")
	w.text(marginX+90, bodyFont, p.Invoice.DateOfIssuing)
	w.line()
	w.text(marginX, boldFont, "Deal No:")
	w.text(marginX+90, bodyFont, p.Invoice.DealNumber)

	w.y = 160
	w.text(marginX, boldFont, "Issued to")
	w.line()
	for _, row := range []string{p.IssuedTo.Name, p.IssuedTo.Address, p.IssuedTo.Email} {
		if row == "" {
			continue
		}
		w.text(marginX, bodyFont, row)
		w.line()
	}
	if p.IssuedTo.TRN != "" {
		w.text(marginX, bodyFont, "TRN: "+p.IssuedTo.TRN)
		w.line()
	}

	w.y = firstPageTop
	header := func() {
		for _, c := range columns {
			w.text(c.x, boldFont, c.header)
		}
		w.line()
	}
	header()

	for i, item := range p.Items {
		rows := 1
		if item.SubDescription != "" {
			rows = 2
		}
		if w.y+float64(rows)*lineHeight > pageBottom {
			w.newPage()
			header()
		}

		line := totals.Lines[i]
		values := []string{
			strconv.Itoa(i + 1),
			item.Description,
			strconv.FormatFloat(item.Quantity, 'f', -1, 64),
			item.UOM,
			fmt.Sprintf("%.2f", item.PriceInclVAT),
			strconv.FormatFloat(item.DiscountPct, 'f', 0, 64),
			line.VAT.StringFixed(2),
			line.InclVAT.StringFixed(2),
		}
		for c, v := range values {
			w.text(columns[c].x, bodyFont, v)
		}
		w.line()
		if item.SubDescription != "" {
			w.text(columns[1].x, bodyFont, item.SubDescription)
			w.line()
		}
	}

	summary := [][2]string{
		{"Total discount", totals.Discount.StringFixed(2)},
		{"Total excl. VAT", totals.ExclVAT.StringFixed(2)},
		{"VAT", totals.VAT.StringFixed(2)},
		{"Total incl. VAT (AED)", totals.InclVAT.StringFixed(2)},
	}
	if p.Kind == models.KindProforma {
		summary = append(summary,
			[2]string{"Amount paid", totals.AmountPaid.StringFixed(2)},
			[2]string{"Balance due", totals.BalanceDue.StringFixed(2)},
		)
	}
	// Totals block plus payment terms.
	if w.y+float64(len(summary)+3)*lineHeight > pageBottom {
		w.newPage()
	}
	w.line()
	for _, row := range summary {
		w.text(columns[4].x, boldFont, row[0])
		w.text(columns[7].x, bodyFont, row[1])
		w.line()
	}
	w.line()
	w.text(marginX, boldFont, "Payment terms:")
	w.text(marginX+90, bodyFont, p.Terms.PaymentTerms)

	return description{
		Paper:      "A4P",
		Origin:     "UpperLeft",
		ContentBox: false,
		Fonts:      map[string]font{},
		Pages:      w.pages,
	}
}

// Filename is the attachment name of a rendered document.
func Filename(p models.InvoicePayload) string {
	prefix := "Proforma_Invoice"
	if p.Kind == models.KindTax {
		prefix = "Tax_Invoice"
	}
	return fmt.Sprintf("%s_%s.pdf", prefix, p.Invoice.Number)
}
